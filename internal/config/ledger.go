package config

import "time"

// LedgerConfig controls the outbound JSON-RPC client.
type LedgerConfig struct {
	Timeout     time.Duration // per request
	MaxAttempts int           // transport failures are retried up to this many attempts
	Backoff     time.Duration // base delay between attempts, doubled each retry
	RPS         float64       // client-side request rate; 0 disables limiting
	Burst       int
}

// LoadLedgerConfig reads LEDGER_* variables.  Unset values fall back to
// defaults suited to a public devnet endpoint.
func LoadLedgerConfig() LedgerConfig {
	cfg := LedgerConfig{
		Timeout:     envDur("LEDGER_TIMEOUT", 10*time.Second),
		MaxAttempts: envInt("LEDGER_MAX_ATTEMPTS", 3),
		Backoff:     envDur("LEDGER_BACKOFF", 200*time.Millisecond),
		RPS:         envFloat("LEDGER_RPS", 10),
		Burst:       envInt("LEDGER_BURST", 5),
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return cfg
}

// VerifyCacheConfig defines the Redis cache of definitive verification
// results.  Caching is disabled when Enabled is false or Redis is
// unavailable.
type VerifyCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadVerifyCacheConfig reads VERIFY_CACHE_* variables.
func LoadVerifyCacheConfig() VerifyCacheConfig {
	return VerifyCacheConfig{
		Enabled: envBool("VERIFY_CACHE_ENABLED", true),
		TTL:     envDur("VERIFY_CACHE_TTL", 24*time.Hour),
		Prefix:  getenv("VERIFY_CACHE_PREFIX", "ledger"),
	}
}
