package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"docpipe/internal/api"
	"docpipe/internal/config"
	"docpipe/internal/extract"
	"docpipe/internal/journal"
	"docpipe/internal/logger"
	"docpipe/internal/pipeline"
	"docpipe/internal/session"
	"docpipe/internal/vlm"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("DOCPIPE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Init(cfg.BasicConfig.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("init session store: %v", err)
	}
	defer closeStore()

	// Extraction journal is optional: enabled when a database is configured.
	var recorder pipeline.Recorder
	var auditor api.Auditor
	dbType := os.Getenv("DOCPIPE_DB")
	if dbType == "" && len(cfg.Databases) == 1 {
		for name := range cfg.Databases {
			dbType = name
		}
	}
	if dbType != "" {
		db, err := journal.Open(dbType, cfg)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		if err := journal.Migrate(db, dbType); err != nil {
			log.Fatalf("migrate database: %v", err)
		}
		j := journal.New(db)
		retention := time.Duration(cfg.BasicConfig.JournalRetentionDays) * 24 * time.Hour
		j.StartPruner(ctx, time.Hour, retention)
		recorder = j
		auditor = j
	}

	downloader := extract.NewHostDownloader(cfg.Host.BaseURL, cfg.Host.APIKey, 0)
	var engine extract.Engine
	if cfg.Engine.BaseURL != "" {
		engine = extract.NewOCREngine(cfg.Engine.BaseURL, cfg.Engine.APIKey,
			time.Duration(cfg.Engine.TimeoutSeconds)*time.Second)
	}
	renderer := extract.NewPageRenderer(cfg.Renderer.BaseURL,
		time.Duration(cfg.Renderer.TimeoutSeconds)*time.Second)
	dispatcher := extract.NewDispatcher(downloader, engine, renderer, store, extract.DispatcherConfig{
		DPI: cfg.Renderer.DPI,
	})

	model, err := vlm.NewService(ctx, cfg.VLM)
	if err != nil {
		log.Fatalf("init chat model: %v", err)
	}

	svc := pipeline.NewService(store, dispatcher, model, recorder, cfg.VLM.SystemPrompt)
	handlers := api.NewHandler(svc, auditor, cfg.BasicConfig.APIKey)

	if cfg.BasicConfig.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handlers.RegisterRoutes(router)

	logger.Info().Str("addr", cfg.BasicConfig.ServerAddress).Msg("starting server")
	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.BasicConfig.SessionBackend {
	case "redis":
		rdb, err := session.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		ttl := time.Duration(cfg.Redis.SessionTTLMinutes) * time.Minute
		store := session.NewRedisStore(rdb, ttl)
		return store, func() { _ = rdb.Close() }, nil
	default:
		store := session.NewMemoryStore()
		if cfg.BasicConfig.SessionIdleMinutes > 0 {
			idle := time.Duration(cfg.BasicConfig.SessionIdleMinutes) * time.Minute
			store.StartJanitor(ctx, idle/2, idle)
		}
		return store, func() {}, nil
	}
}
