package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/dave-anonymizer/data/documents.db"
	}
	if cfg.Transit.Address == "" {
		cfg.Transit.Address = "http://localhost:8200"
	}
	if cfg.Transit.TimeoutSeconds == 0 {
		cfg.Transit.TimeoutSeconds = 10
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.ResetTimeoutSeconds == 0 {
		cfg.Breaker.ResetTimeoutSeconds = 30
	}
	if cfg.Breaker.HalfOpenMax == 0 {
		cfg.Breaker.HalfOpenMax = 1
	}
}
