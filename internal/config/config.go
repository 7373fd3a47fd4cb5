package config

import (
	"os"
	"strconv"
)

// Config holds the application configuration for both the gateway and the
// system servers. Everything comes from the environment so deployments stay
// twelve-factor.
type Config struct {
	// Environment
	Environment string
	Port        string

	// LLM API Keys
	OpenAIAPIKey string // OpenAI API key for GPT models
	GeminiAPIKey string // Google Gemini API key

	// Prompt pipeline
	RouteConfigTag string // selects the provider/model pair for moderation, routing and lyrics

	// Observability
	SentryDSN         string // Sentry DSN for error tracking
	LangfusePublicKey string // Langfuse public key
	LangfuseSecretKey string // Langfuse secret key
	LangfuseHost      string // Langfuse host URL (cloud or self-hosted)
	LangfuseEnabled   bool   // Feature flag for Langfuse

	// Storage
	DatabaseURL string // Postgres DSN for battle records; empty keeps records in memory
	AudioBucket string // GCS bucket for audio; empty falls back to AudioDir or memory
	AudioDir    string // local directory for audio blobs

	// Battle flow
	MinimumListenTime  float64 // seconds of playback required per side before a vote counts
	GatewayURL         string  // public base URL of the gateway, prefixes relative audio URIs
	SystemsBaseURL     string  // base URL system servers are reachable at
	Flakiness          float64 // probability in [0,1] of injecting a transient battle error
	AnonymizedUserSalt string  // salt for user identifier checksums

	// Registry
	RegistryPath string // path to the systems catalog; empty uses the embedded catalog
	WeightsPath  string // path to matchup weights JSON; empty samples uniformly

	// System server
	SystemKey       string  // "system_tag:variant_tag" this server hosts
	MaxBatchSize    int     // preferred max batch size for the hosted model
	MaxDelay        float64 // seconds the batcher waits to fill a batch
	QueueCap        int     // pending request cap before returning busy
	GPUMemGBPerItem float64 // GPU memory one batch item costs
	GPUTotalGB      float64 // total GPU memory available to the model
}

func Load() *Config {
	return &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		Port:               getEnv("PORT", "8080"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		RouteConfigTag:     getEnv("ROUTE_CONFIG", "4o-v00"),
		SentryDSN:          getEnv("SENTRY_DSN", ""),
		LangfusePublicKey:  getEnv("LANGFUSE_PUBLIC_KEY", ""),
		LangfuseSecretKey:  getEnv("LANGFUSE_SECRET_KEY", ""),
		LangfuseHost:       getEnv("LANGFUSE_HOST", "https://cloud.langfuse.com"),
		LangfuseEnabled:    getEnv("LANGFUSE_ENABLED", "false") == "true",
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AudioBucket:        getEnv("AUDIO_BUCKET", ""),
		AudioDir:           getEnv("AUDIO_DIR", ""),
		MinimumListenTime:  getEnvFloat("MINIMUM_LISTEN_TIME", 5.0),
		GatewayURL:         getEnv("GATEWAY_URL", ""),
		SystemsBaseURL:     getEnv("SYSTEMS_BASE_URL", "http://localhost"),
		Flakiness:          getEnvFloat("FLAKINESS", 0),
		AnonymizedUserSalt: getEnv("ANONYMIZED_USER_SALT", "music-arena"),
		RegistryPath:       getEnv("ARENA_REGISTRY_PATH", ""),
		WeightsPath:        getEnv("ARENA_WEIGHTS_PATH", ""),
		SystemKey:          getEnv("ARENA_SYSTEM_KEY", ""),
		MaxBatchSize:       getEnvInt("MAX_BATCH_SIZE", 8),
		MaxDelay:           getEnvFloat("MAX_DELAY", 0.1),
		QueueCap:           getEnvInt("QUEUE_CAP", 64),
		GPUMemGBPerItem:    getEnvFloat("GPU_MEM_GB_PER_ITEM", 0),
		GPUTotalGB:         getEnvFloat("GPU_TOTAL_GB", 0),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// IsProduction reports whether this deployment runs with production
// hardening (release mode, metrics emission, debug logging off).
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
