package config

// Config is the umbrella configuration object returned by Initialize and
// threaded through every component at construction time — an explicit
// application value, not a package-level singleton (per DESIGN NOTES §9).
type Config struct {
	configDir string

	Defaults    Defaults
	Concurrency ConcurrencyConfig
	Models      ModelsConfig

	EngineRegistry      *EngineRegistry
	DomainRegistry       *DomainRegistry
	AcademicAPIRegistry  *AcademicAPIRegistry
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Engines      int
	Domains      int
	AcademicAPIs int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{
		Engines:      len(c.EngineRegistry.GetAll()),
		Domains:      len(c.DomainRegistry.GetAll()),
		AcademicAPIs: len(c.AcademicAPIRegistry.GetAll()),
	}
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }
