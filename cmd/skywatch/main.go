package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpapi "github.com/rewired-gh/skywatch/internal/api/http"
	"github.com/rewired-gh/skywatch/internal/calibrate"
	"github.com/rewired-gh/skywatch/internal/config"
	"github.com/rewired-gh/skywatch/internal/engine"
	"github.com/rewired-gh/skywatch/internal/logger"
	"github.com/rewired-gh/skywatch/internal/monitor"
	"github.com/rewired-gh/skywatch/internal/openweather"
	"github.com/rewired-gh/skywatch/internal/scheduler"
	"github.com/rewired-gh/skywatch/internal/service"
	"github.com/rewired-gh/skywatch/internal/storage"
	"github.com/rewired-gh/skywatch/internal/telegram"
	"github.com/rewired-gh/skywatch/internal/telemetry"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize telemetry
	providers, err := telemetry.InitProvider(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down telemetry: %v", err)
		}
	}()
	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		logger.Fatal("Failed to create metrics: %v", err)
	}

	// Initialize storage
	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Initialize engine
	eng, err := newEngine(cfg, store, metrics)
	if err != nil {
		logger.Fatal("Failed to initialize engine: %v", err)
	}

	// Initialize monitor
	mon := monitor.New(cfg.Telegram.AlertMinConfidence)

	// Initialize Telegram client
	var (
		telegramClient *telegram.Client
		notifier       service.Notifier
	)
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Initialize official-weather client
	var official service.OfficialSource
	if cfg.OpenWeather.Enabled {
		owClient, err := openweather.NewClient(&http.Client{Timeout: cfg.OpenWeather.Timeout}, openweather.Config{
			APIKey:   cfg.OpenWeather.APIKey,
			BaseURL:  cfg.OpenWeather.BaseURL,
			Lat:      cfg.OpenWeather.Lat,
			Lon:      cfg.OpenWeather.Lon,
			CacheTTL: cfg.OpenWeather.CacheTTL,
		})
		if err != nil {
			logger.Fatal("Failed to initialize OpenWeather client: %v", err)
		}
		official = owClient
	}

	svc, err := service.New(service.Deps{
		Engine:   eng,
		Store:    store,
		Monitor:  mon,
		Notifier: notifier,
		Official: official,
		Metrics:  metrics,
	}, service.Options{
		Cooldown:            cfg.Telegram.Cooldown,
		ReadingRetention:    cfg.Storage.ReadingRetention,
		PredictionRetention: cfg.Storage.PredictionRetention,
		Calibrate:           cfg.Calibration.Enabled,
	})
	if err != nil {
		logger.Fatal("Failed to initialize service: %v", err)
	}

	// Warm start from the store
	stats, err := svc.Restore(ctx)
	if err != nil {
		logger.Fatal("Failed to restore state: %v", err)
	}
	logger.Info("Restored %d readings (%d rejected) and %d events (%d skipped)",
		stats.Readings, stats.RejectedReadings, stats.Events, stats.SkippedEvents)

	// Background recalibration
	calibrationInterval := time.Duration(0)
	if cfg.Calibration.Enabled {
		calibrationInterval = cfg.Calibration.Interval
		go eng.Run(ctx)
	}

	sched := scheduler.New(scheduler.Config{
		PredictionInterval:  cfg.Engine.PredictionInterval,
		CalibrationInterval: calibrationInterval,
		PruneAt:             cfg.Storage.PruneAt,
	}, svc)
	if err := sched.Start(); err != nil {
		logger.Fatal("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Start Telegram command listener
	if telegramClient != nil {
		go telegramClient.ListenForCommands(ctx, svc)
	}

	// Start HTTP API
	if cfg.HTTP.Enabled {
		app := httpapi.NewApp(httpapi.Config{ReadTimeout: cfg.HTTP.ReadTimeout, WriteTimeout: cfg.HTTP.WriteTimeout})
		httpapi.RegisterRoutes(app, svc)
		go func() {
			logger.Info("HTTP API listening on %s", cfg.HTTP.Listen)
			if err := app.Listen(cfg.HTTP.Listen); err != nil {
				logger.Error("HTTP server stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				logger.Warn("Error during HTTP shutdown: %v", err)
			}
		}()
	}

	logger.Info("Skywatch started (prediction every %v, window %d readings / %v)",
		cfg.Engine.PredictionInterval, cfg.Engine.WindowCapacity, cfg.Engine.Retention)

	<-ctx.Done()
	logger.Info("Shutdown signal received, cleaning up...")
}

func newEngine(cfg *config.Config, store *storage.Storage, metrics *telemetry.Metrics) (*engine.Engine, error) {
	loc, err := cfg.Engine.TimeLocation()
	if err != nil {
		return nil, err
	}
	tunings, err := cfg.Tunings()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		WindowCapacity: cfg.Engine.WindowCapacity,
		Retention:      cfg.Engine.Retention,
		HistorySize:    cfg.Engine.HistorySize,
		Location:       loc,
		Arbiter:        cfg.Engine.Config,
		Tunings:        tunings,
		Calibration: calibrate.Options{
			LearningRate: cfg.Calibration.LearningRate,
			BatchSize:    cfg.Calibration.BatchSize,
			Retention:    cfg.Engine.Retention,
			Store:        store,
			OnReport: func(r calibrate.Report) {
				metrics.Recalibrated(context.Background(), len(r.Divergences))
			},
		},
	}, store)
}
