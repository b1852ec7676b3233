package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/khanglvm/session-memory-mcp/internal/config"
)

// initOptions are the choices recorded by 'init'.
type initOptions struct {
	driver   string
	dsn      string
	dbPath   string
	provider string
	model    string
	dims     int
	backend  string
	force    bool
}

// NewInitCmd creates the 'init' command that writes a configuration file.
//
// The file holds no secrets: API keys are read from the environment
// (SESSION_MEMORY_EMBEDDING_API_KEY or OPENAI_API_KEY) or a .env file.
func NewInitCmd(configPath *string) *cobra.Command {
	opts := initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file",
		Long: `Write ~/.session-memory-mcp.json with defaults and the given choices.

Defaults:
  • storage   sqlite at ~/.session-memory-mcp/memory.db
  • embedding local hashing embedder (offline, 256 dimensions)
  • index     IVF with exact search below 2048 vectors

Secrets are never written to the file. Set SESSION_MEMORY_EMBEDDING_API_KEY
or OPENAI_API_KEY in the environment or in a .env file instead.`,
		Example: `  # Local, offline defaults
  session-memory-mcp init

  # OpenAI embeddings on PostgreSQL with pgvector
  session-memory-mcp init --driver postgres --dsn postgres://localhost/memory \
    --provider openai --model text-embedding-3-small --dimensions 1536 --index pgvector

  # Overwrite an existing file
  session-memory-mcp init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(configPath)
			if err != nil {
				return err
			}
			return runInit(path, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.driver, "driver", config.DriverSQLite, "Storage driver: sqlite or postgres")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL connection string")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite database file (default: ~/.session-memory-mcp/memory.db)")
	cmd.Flags().StringVar(&opts.provider, "provider", config.ProviderHash, "Embedding provider: hash or openai")
	cmd.Flags().StringVar(&opts.model, "model", "", "Embedding model name")
	cmd.Flags().IntVar(&opts.dims, "dimensions", 0, "Embedding dimensions")
	cmd.Flags().StringVar(&opts.backend, "index", config.BackendIVF, "Vector index: flat, ivf, chromem or pgvector")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing config file")

	return cmd
}

// runInit writes the configuration to path.
func runInit(path string, opts initOptions, out io.Writer) error {
	if _, err := os.Stat(path); err == nil && !opts.force {
		return fmt.Errorf("config already exists: %s\n\n💡 Use --force to overwrite it (a .bak copy is kept)", path)
	}

	cfg := config.NewConfig()
	cfg.Storage.Driver = opts.driver
	cfg.Storage.DSN = opts.dsn
	if opts.dbPath != "" {
		cfg.Storage.Path = opts.dbPath
	}
	cfg.Embedding.Provider = opts.provider
	if opts.model != "" {
		cfg.Embedding.Model = opts.model
	}
	if opts.dims > 0 {
		cfg.Embedding.Dimensions = opts.dims
	}
	cfg.Index.Backend = opts.backend

	// The key lives in the environment, so only check it is present there.
	if cfg.Embedding.Provider == config.ProviderOpenAI {
		if err := config.ApplyEnv(cfg); err != nil {
			return err
		}
	}

	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(out, "✓ Wrote %s\n", path)
	fmt.Fprintf(out, "  Storage:   %s\n", describeStorage(cfg))
	fmt.Fprintf(out, "  Embedding: %s (%d dimensions)\n", cfg.Embedding.Provider, cfg.Embedding.Dimensions)
	fmt.Fprintf(out, "  Index:     %s\n", cfg.Index.Backend)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  Check the setup:")
	fmt.Fprintln(out, "    session-memory-mcp doctor")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Add session-memory-mcp to your AI client:")
	fmt.Fprintln(out, "    claude mcp add session-memory -- session-memory-mcp serve")
	return nil
}

// describeStorage names the storage location without leaking credentials.
func describeStorage(cfg *config.Config) string {
	if cfg.Storage.Driver == config.DriverPostgres {
		return "postgres"
	}
	return "sqlite at " + cfg.Storage.Path
}
