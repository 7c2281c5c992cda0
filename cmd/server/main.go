package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"crisis-engine/internal/aggregator"
	"crisis-engine/internal/config"
	"crisis-engine/internal/crypto"
	"crisis-engine/internal/engine"
	"crisis-engine/internal/events"
	"crisis-engine/internal/gemini"
	"crisis-engine/internal/ml_client"
	"crisis-engine/internal/performance"
	"crisis-engine/internal/repository"
	"crisis-engine/internal/review"
	"crisis-engine/internal/scheduler"
	"crisis-engine/internal/scoring"
	"crisis-engine/internal/server"
	"crisis-engine/internal/signal_client"
	"crisis-engine/internal/signals"
	"crisis-engine/internal/telegram_bot"
	"crisis-engine/internal/textanalysis"
)

func main() {
	cfgPath := flag.String("config", envOr("CONFIG_PATH", "configs/config.yml"), "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.Logging.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Database connection
	db, err := repository.NewDB(cfg.Database.Type, cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := repository.MigrateDB(db, cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Signal source
	var source signals.Source
	switch cfg.Signals.Source {
	case "http":
		source = signal_client.NewClient(cfg.Signals.URL, cfg.FetchTimeout(), logger)
		logger.Info("Using remote signal store", zap.String("url", cfg.Signals.URL))
	default:
		keyManager, err := crypto.NewKeyManager(cfg.Encryption.MasterKeyEnv)
		if err != nil {
			logger.Fatal("Failed to initialize KeyManager", zap.Error(err))
		}
		logger.Info("KeyManager initialized successfully")
		source = repository.NewSignalRepository(db, keyManager, logger)
	}

	// Text analysis
	lexicon := textanalysis.DefaultLexicon()
	if cfg.TextAnalyzer.LexiconPath != "" {
		lexicon, err = textanalysis.LoadLexicon(cfg.TextAnalyzer.LexiconPath)
		if err != nil {
			logger.Fatal("Failed to load lexicon", zap.Error(err))
		}
	}
	lexiconAnalyzer, err := textanalysis.NewLexiconAnalyzer(lexicon)
	if err != nil {
		logger.Fatal("Failed to compile lexicon", zap.Error(err))
	}

	var analyzer textanalysis.Analyzer = lexiconAnalyzer
	switch cfg.TextAnalyzer.Provider {
	case "ml_service":
		mlClient := ml_client.NewClient(cfg.TextAnalyzer.MLServiceURL)
		if health, err := mlClient.HealthCheck(ctx); err != nil {
			logger.Warn("ML service is not reachable, the lexicon will be used until it is", zap.Error(err))
		} else {
			logger.Info("ML service connected", zap.String("status", health.Status), zap.Bool("model_loaded", health.ModelLoaded))
		}
		analyzer = textanalysis.WithFallback("ml_service", mlClient, lexiconAnalyzer, logger)
	case "gemini":
		g := cfg.TextAnalyzer.Gemini
		geminiClient, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:            g.APIKey,
			ModelName:         g.ModelName,
			MaxRetries:        g.MaxRetries,
			RequestsPerMinute: g.RequestsPerMinute,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Gemini client", zap.Error(err))
		}
		defer geminiClient.Close()
		analyzer = textanalysis.WithFallback("gemini", geminiClient, lexiconAnalyzer, logger)
	}

	// Engine
	bus := events.NewBus(logger)
	reviews := review.NewWorkstream(repository.NewReviewRepository(db, logger), logger)
	eng := engine.New(
		aggregator.NewAggregator(source, analyzer, cfg.FetchTimeout(), cfg.Signals.FetchConcurrency, logger),
		scoring.NewScorer(cfg.Scoring),
		reviews,
		performance.NewTracker(cfg.Scoring.ModelVersion),
		bus,
		engine.Options{
			WindowHours:        cfg.Signals.WindowHours,
			HistoryCapacity:    cfg.History.Capacity,
			ConfidenceBypass:   cfg.Escalation.ConfidenceBypass,
			FalsePositiveDecay: cfg.Scoring.FalsePositiveDecay,
			MinWeightFraction:  cfg.Scoring.MinWeightFraction,
			Assessments:        repository.NewAssessmentRepository(db, logger),
			Calibrations:       repository.NewCalibrationRepository(db, logger),
		},
		logger,
	)

	sched := scheduler.New(eng, cfg.DefaultInterval(), cfg.MinInterval(), logger)
	for _, id := range cfg.Scheduler.MonitoredSubjects {
		if _, err := sched.Start(id, 0, cfg.Scheduler.RunOnStart); err != nil {
			logger.Error("Failed to schedule subject", zap.String("subject_id", id), zap.Error(err))
		}
	}

	go eng.RunHealthChecks(ctx, cfg.HealthCheckInterval())

	// Telegram bot for reviewer paging (if enabled)
	bot, err := telegram_bot.NewBot(cfg, eng, bus, logger)
	if err != nil {
		logger.Warn("Failed to initialize Telegram bot, continuing without it", zap.Error(err))
		bot = nil
	}
	if bot != nil {
		go func() {
			if err := bot.Start(ctx); err != nil {
				logger.Error("Telegram bot failed", zap.Error(err))
			}
		}()
	}

	// Initialize and run the server
	srv := server.NewServer(cfg, eng, sched, bus, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Server failed", zap.Error(err))
	}

	sched.Close()
	bus.Close()
	logger.Info("Application stopped.")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
