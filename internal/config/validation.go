package config

import (
	"fmt"
	"slices"
)

var (
	validDrivers   = []string{DriverSQLite, DriverPostgres}
	validProviders = []string{ProviderHash, ProviderOpenAI}
	validBackends  = []string{BackendFlat, BackendIVF, BackendChromem, BackendPGVector}
	validLevels    = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"text", "json"}
)

// Validate checks a configuration and reports every problem at once.
func Validate(cfg *Config) error {
	cfg.fillDefaults()
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	s := cfg.Storage
	switch {
	case !slices.Contains(validDrivers, s.Driver):
		addf("storage.driver %q must be one of %v", s.Driver, validDrivers)
	case s.Driver == DriverSQLite && s.Path == "":
		addf("storage.path is required for sqlite")
	case s.Driver == DriverPostgres && s.DSN == "":
		addf("storage.dsn is required for postgres (or set %sPG_DSN)", EnvPrefix)
	}

	e := cfg.Embedding
	switch {
	case !slices.Contains(validProviders, e.Provider):
		addf("embedding.provider %q must be one of %v", e.Provider, validProviders)
	case e.Provider == ProviderOpenAI && e.APIKey == "" && e.BaseURL == "":
		addf("embedding.apiKey is required for openai (or set OPENAI_API_KEY)")
	case e.Provider == ProviderOpenAI && e.Model == "":
		addf("embedding.model is required for openai")
	}
	if e.Dimensions <= 0 {
		addf("embedding.dimensions must be positive, got %d", e.Dimensions)
	}
	if e.CacheSize < 0 || e.RequestsPerSecond < 0 || e.Burst < 0 {
		addf("embedding.cacheSize, requestsPerSecond and burst must not be negative")
	}

	ix := cfg.Index
	if !slices.Contains(validBackends, ix.Backend) {
		addf("index.backend %q must be one of %v", ix.Backend, validBackends)
	}
	if ix.Backend == BackendPGVector && s.Driver != DriverPostgres {
		addf("index.backend pgvector requires storage.driver postgres")
	}
	if ix.ExactThreshold < 0 || ix.NList < 0 || ix.NProbe < 0 || ix.TrainThreshold < 0 {
		addf("index thresholds and IVF sizes must not be negative")
	}

	st := cfg.Settings
	if st.QueueSize <= 0 {
		addf("settings.queueSize must be positive, got %d", st.QueueSize)
	}
	if st.Workers <= 0 {
		addf("settings.workers must be positive, got %d", st.Workers)
	}
	if st.JobTimeoutSeconds <= 0 || st.QueryTimeoutSeconds <= 0 {
		addf("settings.jobTimeoutSeconds and queryTimeoutSeconds must be positive")
	}
	if st.BackfillIntervalSeconds < 0 {
		addf("settings.backfillIntervalSeconds must not be negative")
	}
	if !slices.Contains(validLevels, st.LogLevel) {
		addf("settings.logLevel %q must be one of %v", st.LogLevel, validLevels)
	}
	if !slices.Contains(validFormats, st.LogFormat) {
		addf("settings.logFormat %q must be one of %v", st.LogFormat, validFormats)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
