// Command server runs the WhatsApp commerce webhook and admin API.
//
//	@title			go-wa-commerce API
//	@version		1.0
//	@description	WhatsApp conversational-commerce webhook and merchant admin API.
//	@BasePath		/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-commerce/internal/ai"
	"github.com/tbourn/go-wa-commerce/internal/config"
	httpapi "github.com/tbourn/go-wa-commerce/internal/http"
	"github.com/tbourn/go-wa-commerce/internal/observability"
	"github.com/tbourn/go-wa-commerce/internal/repo"
	"github.com/tbourn/go-wa-commerce/internal/resilience"
	"github.com/tbourn/go-wa-commerce/internal/search"
	"github.com/tbourn/go-wa-commerce/internal/services"
	"github.com/tbourn/go-wa-commerce/internal/sysutil"
	"github.com/tbourn/go-wa-commerce/internal/whatsapp"
)

var version = "dev"

const receiptPurgeInterval = time.Hour

func main() {
	// --- Load .env file (for local development) ---
	_ = godotenv.Load()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		sysutil.ConfigureLogger(os.Stderr, "info", true)
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// --- Logger ---
	sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	log.Info().
		Str("version", version).
		Str("port", cfg.Port).
		Str("ai_provider", cfg.AI.Provider).
		Bool("async", cfg.Pipeline.Async).
		Int("workers", cfg.Pipeline.WorkerConcurrency).
		Bool("signature_checks", cfg.WhatsApp.AppSecret != "").
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// --- Database ---
	db, err := repo.OpenSQLite(cfg.DBPath, repo.Options{Tracing: cfg.OTEL.Enabled, Silent: cfg.GinMode == gin.ReleaseMode})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
		MaxConcurrency: cfg.Pipeline.WorkerConcurrency,
	}
	aiBreaker := resilience.NewCircuitBreaker("ai", observability.BreakerStateChange)
	sendBreaker := resilience.NewCircuitBreaker("whatsapp", observability.BreakerStateChange)
	embedBreaker := resilience.NewCircuitBreaker("embeddings", observability.BreakerStateChange)

	// --- Clients ---
	sender := whatsapp.NewClient(&http.Client{Timeout: cfg.Pipeline.SendTimeout}, cfg.WhatsApp.GraphBaseURL, cfg.WhatsApp.AccessToken, sendBreaker, resilienceCfg)

	var (
		completer ai.Completer
		embedder  search.Embedder
	)
	if cfg.AI.GeminiAPIKey != "" {
		gc, err := ai.NewGeminiClient(ctx, cfg.AI.GeminiAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("gemini client")
		}
		embedder = ai.NewGeminiEmbedder(gc, cfg.AI.EmbeddingModel, embedBreaker)
		if cfg.AI.Provider == "gemini" {
			completer = ai.NewGeminiCompleter(gc, cfg.AI.GeminiModel, cfg.AI.Temperature, aiBreaker)
		}
	}
	if completer == nil {
		completer = ai.NewHTTPCompleter(&http.Client{Timeout: cfg.Pipeline.AITimeout}, cfg.AI.ServiceURL, cfg.AI.APIKey, aiBreaker, resilienceCfg)
	}
	retrieverOpts := []search.Option{search.WithDegradeHook(observability.ObserveEmbeddingFallback)}
	if embedder != nil {
		retrieverOpts = append(retrieverOpts, search.WithEmbedder(embedder))
	}
	retriever := search.NewRetriever(services.CatalogLoader(db), retrieverOpts...)

	// --- Services ---
	store := repo.NewConversationStore(db)
	dispatcher := &services.Dispatcher{
		DB: db,
		Merchant: &services.MerchantProcessor{
			DB:          db,
			Store:       store,
			Completer:   completer,
			Sender:      sender,
			Retriever:   retriever,
			QuoteTTL:    cfg.Pipeline.QuoteTTL,
			AITimeout:   cfg.Pipeline.AITimeout,
			SendTimeout: cfg.Pipeline.SendTimeout,
			Currency:    cfg.Pipeline.Currency,
		},
		Concierge: &services.ConciergeProcessor{
			DB:          db,
			Store:       store,
			Sender:      sender,
			QuoteTTL:    cfg.Pipeline.QuoteTTL,
			SendTimeout: cfg.Pipeline.SendTimeout,
			Currency:    cfg.Pipeline.Currency,
			TitleLocale: language.French,
		},
		Async:          cfg.Pipeline.Async,
		Bulkhead:       resilience.NewBulkhead(cfg.Pipeline.WorkerConcurrency),
		Locks:          resilience.NewKeyedMutex(),
		DedupeTTL:      cfg.Pipeline.DedupeTTL,
		ProcessTimeout: cfg.Pipeline.ProcessTimeout,
	}
	go purgeReceipts(ctx, db)

	// --- Router ---
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, httpapi.Deps{DB: db, Dispatcher: dispatcher, Embedder: embedder}, cfg)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	// --- Graceful shutdown ---
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("server shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	// Let in-flight background messages finish their replies.
	if err := dispatcher.Wait(sctx); err != nil {
		log.Warn().Err(err).Msg("background messages abandoned")
	}
	log.Info().Msg("server stopped")
}

// purgeReceipts drops expired webhook dedupe receipts until ctx ends.
func purgeReceipts(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(receiptPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredReceipts(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge dedupe receipts")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("dedupe receipts purged")
			}
		}
	}
}
