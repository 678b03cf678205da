package config

import "os"

const (
	defaultListenAddr   = ":8080"
	defaultMetricsAddr  = ":9090"
	defaultPlatformURL  = "http://localhost:7070"
	defaultLedgerURL    = ""
	defaultGraphQLURL   = ""
	defaultNATSURL      = ""
	defaultRedisURL     = ""
	defaultSnapshotPath = "data/mintd.snapshot"
	defaultPolicyPath   = "config/mintd.yaml"
	defaultSelfIdentity = "mintd"

	envListenAddr   = "MINTD_LISTEN_ADDR"
	envMetricsAddr  = "MINTD_METRICS_ADDR"
	envPlatformURL  = "PLATFORM_URL"
	envPlatformKey  = "PLATFORM_API_KEY"
	envLedgerURL    = "LEDGER_URL"
	envLedgerKey    = "LEDGER_API_KEY"
	envGraphQLURL   = "GRAPHQL_URL"
	envGraphQLKey   = "GRAPHQL_API_KEY"
	envNATSURL      = "NATS_URL"
	envRedisURL     = "REDIS_URL"
	envSnapshotPath = "SNAPSHOT_PATH"
	envPolicyPath   = "POLICY_CONFIG_PATH"
	envSelfIdentity = "MINTD_SELF_IDENTITY"
	envAPIKeys      = "MINTD_API_KEYS"
)

// Config holds runtime configuration for the issuance daemon. Collaborator
// URLs left empty disable the corresponding integration.
type Config struct {
	ListenAddr   string
	MetricsAddr  string
	PlatformURL  string
	PlatformKey  string
	LedgerURL    string
	LedgerKey    string
	GraphQLURL   string
	GraphQLKey   string
	NatsURL      string
	RedisURL     string
	SnapshotPath string
	PolicyPath   string
	SelfIdentity string
	// APIKeys maps bearer tokens to caller identities, raw value form
	// "key1=identity1,key2=identity2".
	APIKeys string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	return &Config{
		ListenAddr:   envOrDefault(envListenAddr, defaultListenAddr),
		MetricsAddr:  envOrDefault(envMetricsAddr, defaultMetricsAddr),
		PlatformURL:  envOrDefault(envPlatformURL, defaultPlatformURL),
		PlatformKey:  os.Getenv(envPlatformKey),
		LedgerURL:    envOrDefault(envLedgerURL, defaultLedgerURL),
		LedgerKey:    os.Getenv(envLedgerKey),
		GraphQLURL:   envOrDefault(envGraphQLURL, defaultGraphQLURL),
		GraphQLKey:   os.Getenv(envGraphQLKey),
		NatsURL:      envOrDefault(envNATSURL, defaultNATSURL),
		RedisURL:     envOrDefault(envRedisURL, defaultRedisURL),
		SnapshotPath: envOrDefault(envSnapshotPath, defaultSnapshotPath),
		PolicyPath:   envOrDefault(envPolicyPath, defaultPolicyPath),
		SelfIdentity: envOrDefault(envSelfIdentity, defaultSelfIdentity),
		APIKeys:      os.Getenv(envAPIKeys),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
