package api

import (
	"github.com/gin-gonic/gin"

	"github.com/music-arena/music-arena/internal/api/handlers"
	apimiddleware "github.com/music-arena/music-arena/internal/api/middleware"
	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/battle"
	"github.com/music-arena/music-arena/internal/config"
	"github.com/music-arena/music-arena/internal/registry"
	"github.com/music-arena/music-arena/internal/store"
)

// Deps carries the wired services the gateway routes expose.
type Deps struct {
	Service  *battle.Service
	Registry *registry.Registry
	Blobs    store.BlobStore
	Prebaked map[string]*arena.DetailedPrompt
}

func SetupRouter(deps Deps, cfg *config.Config, version string) *gin.Engine {
	router := gin.New()

	// Recovery middleware (must be first)
	router.Use(apimiddleware.RecoverWithSentry())

	// Sentry middleware for error tracking
	router.Use(apimiddleware.SentryMiddleware())

	// Request tracking and structured logging
	router.Use(apimiddleware.RequestTracking())

	// CORS middleware
	router.Use(apimiddleware.CORS())

	// Health checks
	healthHandler := handlers.NewHealthHandler(deps.Service, version)
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/health_check", healthHandler.DeepHealthCheck)

	// Battle flow. Flaky only arms itself when FLAKINESS is set, so frontend
	// retry paths can be exercised without touching the health endpoints.
	flaky := apimiddleware.Flaky(cfg.Flakiness)
	battleHandler := handlers.NewBattleHandler(deps.Service)
	router.POST("/generate_battle", flaky, battleHandler.GenerateBattle)
	router.POST("/record_vote", flaky, battleHandler.RecordVote)

	// Catalog
	systemsHandler := handlers.NewSystemsHandler(deps.Registry)
	router.GET("/systems", systemsHandler.ListSystems)

	prebakedHandler := handlers.NewPrebakedHandler(deps.Prebaked)
	router.GET("/prebaked", prebakedHandler.ListPrebaked)

	// Audio served from the gateway-local blob store
	audioHandler := handlers.NewAudioHandler(deps.Blobs)
	router.GET("/audio/*key", audioHandler.GetAudio)

	return router
}
