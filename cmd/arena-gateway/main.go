package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/music-arena/music-arena/internal/api"
	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/battle"
	"github.com/music-arena/music-arena/internal/chat"
	"github.com/music-arena/music-arena/internal/config"
	"github.com/music-arena/music-arena/internal/matchup"
	"github.com/music-arena/music-arena/internal/metrics"
	"github.com/music-arena/music-arena/internal/observability"
	"github.com/music-arena/music-arena/internal/registry"
	"github.com/music-arena/music-arena/internal/store"
	"github.com/music-arena/music-arena/internal/sysclient"
	"github.com/music-arena/music-arena/pkg/embedded"
)

const (
	sentryFlushTimeout    = 2 * time.Second
	environmentProduction = "production"

	// Launcher exit codes, distinguished so orchestration can tell a broken
	// deployment from a missing or unresolvable catalog.
	exitConfigError      = 2
	exitRegistryNotFound = 3
	exitSecretMissing    = 4
)

// releaseVersion is set via ldflags during build
var releaseVersion = "dev"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	initSentry(cfg)
	defer sentry.Flush(sentryFlushTimeout)

	ctx := context.Background()
	observability.InitializeLangfuse(ctx, cfg)

	reg := loadRegistry(cfg)
	weights := loadWeights(cfg)

	prebaked, err := arena.ParsePrebakedPrompts(embedded.PrebakedJSON)
	if err != nil {
		log.Printf("Failed to parse prebaked prompts: %v", err)
		os.Exit(exitConfigError)
	}

	blobs := buildBlobStore(ctx, cfg)
	docs := buildDocStore(cfg)
	pipeline := buildPipeline(ctx, cfg)

	// One client per enabled variant, addressed by its derived port.
	clients := make(map[string]battle.GeneratorClient)
	for _, entry := range reg.EnabledEntries() {
		baseURL := fmt.Sprintf("%s:%d", cfg.SystemsBaseURL, entry.Port)
		clients[entry.Key.String()] = sysclient.New(baseURL)
	}

	cwMetrics, err := metrics.NewClient(ctx, cfg.Environment)
	if err != nil {
		log.Printf("⚠️  CloudWatch metrics unavailable: %v", err)
	}

	service := battle.NewService(battle.Deps{
		Registry:          reg,
		Pipeline:          pipeline,
		Clients:           clients,
		Blobs:             blobs,
		Docs:              docs,
		Weights:           weights,
		Prebaked:          prebaked,
		Metrics:           cwMetrics,
		MinimumListenTime: cfg.MinimumListenTime,
		GatewayURL:        cfg.GatewayURL,
		UserSalt:          cfg.AnonymizedUserSalt,
		ProbeSupport:      true,
	})

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := api.SetupRouter(api.Deps{
		Service:  service,
		Registry: reg,
		Blobs:    blobs,
		Prebaked: prebaked,
	}, cfg, releaseVersion)

	log.Printf("🚀 Starting gateway on port %s (%d systems enabled)", cfg.Port, len(clients))
	if err := router.Run(":" + cfg.Port); err != nil {
		sentry.CaptureException(err)
		log.Fatal("Failed to start server:", err)
	}
}

func initSentry(cfg *config.Config) {
	if cfg.SentryDSN == "" {
		log.Println("⚠️  Sentry not configured (SENTRY_DSN not set)")
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          "music-arena-gateway@" + releaseVersion,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		EnableLogs:       true,
		Debug:            cfg.Environment != environmentProduction,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			// Filter out sensitive data
			if event.Request != nil {
				event.Request.Headers = filterSensitiveHeaders(event.Request.Headers)
			}
			return event
		},
	}); err != nil {
		log.Printf("Failed to initialize Sentry: %v", err)
		return
	}
	log.Printf("✅ Sentry initialized (environment: %s, release: %s)", cfg.Environment, releaseVersion)
}

// loadRegistry reads the system catalog from ARENA_REGISTRY_PATH, falling
// back to the embedded catalog.
func loadRegistry(cfg *config.Config) *registry.Registry {
	var (
		reg *registry.Registry
		err error
	)
	if cfg.RegistryPath != "" {
		reg, err = registry.Load(cfg.RegistryPath)
	} else {
		reg, err = registry.Parse(embedded.SystemsYAML)
	}
	if err != nil {
		log.Printf("Failed to load system registry: %v", err)
		var secretErr *registry.SecretError
		switch {
		case errors.Is(err, fs.ErrNotExist):
			os.Exit(exitRegistryNotFound)
		case errors.As(err, &secretErr):
			os.Exit(exitSecretMissing)
		default:
			os.Exit(exitConfigError)
		}
	}
	if len(reg.EnabledEntries()) == 0 {
		log.Println("System registry has no enabled systems")
		os.Exit(exitConfigError)
	}
	return reg
}

// loadWeights pairs the weights source with the registry source: an explicit
// path wins, the embedded weights belong to the embedded catalog, and a
// custom catalog without a weights file samples uniformly.
func loadWeights(cfg *config.Config) matchup.Weights {
	if cfg.WeightsPath != "" {
		data, err := os.ReadFile(cfg.WeightsPath)
		if err != nil {
			log.Printf("Failed to read matchup weights: %v", err)
			os.Exit(exitConfigError)
		}
		weights, err := matchup.ParseWeights(data)
		if err != nil {
			log.Printf("Failed to parse matchup weights: %v", err)
			os.Exit(exitConfigError)
		}
		return weights
	}
	if cfg.RegistryPath != "" {
		return nil
	}
	weights, err := matchup.ParseWeights(embedded.WeightsJSON)
	if err != nil {
		log.Printf("Failed to parse embedded matchup weights: %v", err)
		os.Exit(exitConfigError)
	}
	return weights
}

func buildBlobStore(ctx context.Context, cfg *config.Config) store.BlobStore {
	switch {
	case cfg.AudioBucket != "":
		blobs, err := store.NewGCSBlobStore(ctx, cfg.AudioBucket)
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal("Failed to connect to GCS:", err)
		}
		log.Printf("🎵 Audio storage: gs://%s", cfg.AudioBucket)
		return blobs
	case cfg.AudioDir != "":
		blobs, err := store.NewLocalBlobStore(cfg.AudioDir)
		if err != nil {
			log.Fatal("Failed to prepare audio directory:", err)
		}
		log.Printf("🎵 Audio storage: %s", cfg.AudioDir)
		return blobs
	default:
		log.Println("🎵 Audio storage: in-memory (set AUDIO_BUCKET or AUDIO_DIR to persist)")
		return store.NewMemoryBlobStore()
	}
}

func buildDocStore(cfg *config.Config) store.DocStore {
	if cfg.DatabaseURL != "" {
		docs, err := store.NewPostgresDocStore(cfg.DatabaseURL)
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal("Failed to connect to database:", err)
		}
		log.Println("💾 Battle records: postgres")
		return docs
	}
	log.Println("💾 Battle records: in-memory (set DATABASE_URL to persist)")
	return store.NewMemoryDocStore()
}

func buildPipeline(ctx context.Context, cfg *config.Config) *chat.Pipeline {
	chatCfg, err := chat.ConfigForTag(cfg.RouteConfigTag)
	if err != nil {
		log.Printf("Invalid ROUTE_CONFIG: %v", err)
		os.Exit(exitConfigError)
	}

	factory := chat.NewProviderFactory(cfg.OpenAIAPIKey, cfg.GeminiAPIKey)
	provider, err := factory.GetProvider(ctx, chatCfg.Model, chatCfg.Provider)
	if err != nil {
		log.Printf("Failed to initialize chat provider: %v", err)
		os.Exit(exitConfigError)
	}

	return chat.NewPipeline(provider, chatCfg, chat.Prompts{
		ModerateSystem: string(embedded.ModerateSystemTxt),
		RouteSystem:    string(embedded.RouteSystemTxt),
		RouteExamples:  string(embedded.RouteExamplesTxt),
		LyricsSystem:   string(embedded.LyricsSystemTxt),
	})
}

func filterSensitiveHeaders(headers map[string]string) map[string]string {
	filtered := make(map[string]string)
	sensitiveKeys := map[string]bool{
		"authorization": true,
		"cookie":        true,
		"x-api-key":     true,
	}

	for k, v := range headers {
		if sensitiveKeys[k] {
			filtered[k] = "[REDACTED]"
		} else {
			filtered[k] = v
		}
	}
	return filtered
}
