package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanglvm/session-memory-mcp/internal/config"
)

// embedCheckTimeout bounds the embedding round trip made by 'doctor'.
const embedCheckTimeout = 15 * time.Second

// NewDoctorCmd creates the 'doctor' command for verifying the setup.
func NewDoctorCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"verify"},
		Short:   "Verify configuration, storage and embedding provider",
		Long: `Check that the configuration is valid, the database opens and is migrated,
and the embedding provider answers with vectors of the configured size.`,
		Example: `  session-memory-mcp doctor
  session-memory-mcp doctor --config ./memory.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), *configPath, cmd.OutOrStdout())
		},
	}

	return cmd
}

// runDoctor validates the configuration and checks each component.
func runDoctor(ctx context.Context, configPath string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	path, err := resolveConfigPath(&configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(out, "- Config file: %s (not found, using defaults)\n", path)
	} else {
		fmt.Fprintf(out, "✓ Config file: %s\n", path)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(out, "✗ Configuration: %v\n", err)
		return fmt.Errorf("configuration error")
	}
	fmt.Fprintln(out, "✓ Configuration valid")

	// Components log to stderr only when something is wrong.
	logger := newLogger(&config.Settings{LogLevel: "warn", LogFormat: cfg.Settings.LogFormat}, os.Stderr)
	a, err := openApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		fmt.Fprintf(out, "✗ Storage: %v\n", err)
		return fmt.Errorf("storage error")
	}
	defer a.close()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		fmt.Fprintf(out, "✗ Storage (%s): %v\n", a.store.Driver(), err)
		return fmt.Errorf("storage error")
	}
	fmt.Fprintf(out, "✓ Storage: %s\n", describeStorage(cfg))
	for _, table := range sortedKeys(stats) {
		fmt.Fprintf(out, "    %-13s %d\n", table, stats[table])
	}

	failed := false
	if err := checkEmbedder(ctx, a, logger); err != nil {
		fmt.Fprintf(out, "✗ Embedding (%s): %v\n", a.embedder.Model(), err)
		failed = true
	} else {
		fmt.Fprintf(out, "✓ Embedding: %s (%d dimensions)\n", a.embedder.Model(), a.embedder.Dimensions())
	}
	fmt.Fprintf(out, "✓ Vector index: %s\n", cfg.Index.Backend)

	if failed {
		return fmt.Errorf("embedding provider unavailable; records are still stored and backfilled later")
	}
	return nil
}

// checkEmbedder embeds a short text and checks the vector size.
func checkEmbedder(ctx context.Context, a *app, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, embedCheckTimeout)
	defer cancel()

	vec, err := a.embedder.Embed(ctx, "session-memory-mcp doctor check")
	if err != nil {
		return err
	}
	if len(vec) != a.embedder.Dimensions() {
		logger.Warn("embedding size mismatch", "got", len(vec), "configured", a.embedder.Dimensions())
		return fmt.Errorf("provider returned %d dimensions, configured %d", len(vec), a.embedder.Dimensions())
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
