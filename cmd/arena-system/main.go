package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/batch"
	"github.com/music-arena/music-arena/internal/config"
	"github.com/music-arena/music-arena/internal/registry"
	"github.com/music-arena/music-arena/internal/sysserve"
	"github.com/music-arena/music-arena/internal/system"
	"github.com/music-arena/music-arena/pkg/embedded"
)

const (
	sentryFlushTimeout    = 2 * time.Second
	environmentProduction = "production"

	// shutdownTimeout covers draining in-flight generations, which can run
	// for minutes on cold GPU models.
	shutdownTimeout = 30 * time.Second

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

	if cfg.SystemKey == "" {
		log.Println(`ARENA_SYSTEM_KEY is required ("system_tag:variant_tag")`)
		os.Exit(exitConfigError)
	}
	key, err := arena.ParseSystemKey(cfg.SystemKey)
	if err != nil {
		log.Printf("Invalid ARENA_SYSTEM_KEY: %v", err)
		os.Exit(exitConfigError)
	}

	initSentry(cfg, key)
	defer sentry.Flush(sentryFlushTimeout)

	entry := lookupEntry(cfg, key)

	model, err := system.New(entry.Variant.ClassName, entry.Variant.InitKwargs)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal("Failed to construct model:", err)
	}

	batcher := batch.New(key.String(), model, batch.Config{
		MaxBatchSize:    cfg.MaxBatchSize,
		MaxDelay:        time.Duration(cfg.MaxDelay * float64(time.Second)),
		QueueCap:        cfg.QueueCap,
		GPUTotalGB:      cfg.GPUTotalGB,
		GPUMemGBPerItem: cfg.GPUMemGBPerItem,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go batcher.Run(ctx)

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := sysserve.NewRouter(sysserve.NewHandler(key, model, batcher))

	// Without an explicit PORT the server binds the port the gateway derives
	// for this key.
	port := cfg.Port
	if os.Getenv("PORT") == "" {
		port = strconv.Itoa(entry.Port)
	}

	srv := &http.Server{Addr: ":" + port, Handler: router}

	go func() {
		log.Printf("🚀 System server %s listening on port %s", key, port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.CaptureException(err)
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down system server %s", key)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func initSentry(cfg *config.Config, key arena.SystemKey) {
	if cfg.SentryDSN == "" {
		log.Println("⚠️  Sentry not configured (SENTRY_DSN not set)")
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          "music-arena-system@" + releaseVersion,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		EnableLogs:       true,
		Debug:            cfg.Environment != environmentProduction,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			if event.Tags == nil {
				event.Tags = map[string]string{}
			}
			event.Tags["system"] = key.String()
			return event
		},
	}); err != nil {
		log.Printf("Failed to initialize Sentry: %v", err)
		return
	}
	log.Printf("✅ Sentry initialized (environment: %s, release: %s)", cfg.Environment, releaseVersion)
}

// lookupEntry resolves this server's catalog entry, from ARENA_REGISTRY_PATH
// or the embedded catalog.
func lookupEntry(cfg *config.Config, key arena.SystemKey) *registry.Entry {
	// Only this variant's secrets matter here; sibling systems may require
	// credentials this host does not carry.
	resolver := registry.WithSecretResolver(func(string) bool { return true })

	var (
		reg *registry.Registry
		err error
	)
	if cfg.RegistryPath != "" {
		reg, err = registry.Load(cfg.RegistryPath, resolver)
	} else {
		reg, err = registry.Parse(embedded.SystemsYAML, resolver)
	}
	if err != nil {
		log.Printf("Failed to load system registry: %v", err)
		if errors.Is(err, fs.ErrNotExist) {
			os.Exit(exitRegistryNotFound)
		}
		os.Exit(exitConfigError)
	}

	entry, err := reg.Lookup(key)
	if err != nil {
		log.Printf("System %s not in registry: %v", key, err)
		os.Exit(exitConfigError)
	}

	for _, secret := range entry.Variant.Secrets {
		if !registry.ResolveSecret(secret) {
			log.Printf("System %s requires secret %q which is not resolvable", key, secret)
			os.Exit(exitSecretMissing)
		}
	}
	return entry
}
