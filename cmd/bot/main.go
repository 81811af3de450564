package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"slotbox-bot/internal/auth"
	"slotbox-bot/internal/bot"
	"slotbox-bot/internal/broadcast"
	"slotbox-bot/internal/config"
	"slotbox-bot/internal/database"
	"slotbox-bot/internal/flow"
	"slotbox-bot/internal/logger"
	"slotbox-bot/internal/messenger"
	"slotbox-bot/internal/quota"
	"slotbox-bot/internal/referral"
	"slotbox-bot/internal/repository"
	"slotbox-bot/internal/settings"
	"slotbox-bot/internal/state"
	"slotbox-bot/internal/storage"
	"slotbox-bot/internal/uploads"
	"slotbox-bot/internal/usage"
	"slotbox-bot/internal/worker"

	"github.com/mymmrac/telego"
)

func main() {
	// Load Configuration
	cfg, dotenv, err := config.Load()
	if err != nil {
		log := logger.New("production", "info")
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)
	if !dotenv {
		log.Warn().Msg("No .env file found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Database
	db, err := database.ConnectPostgres(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to database")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to redis")
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not initialize object storage")
	}
	store := storage.NewS3Store(s3Client, cfg.S3URL, cfg.S3Bucket, cfg.S3PublicURL)

	tg, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}
	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch bot identity")
	}

	subjects := repository.NewSubjectRepository(db)
	cfgStore := settings.NewService(repository.NewConfigRepository(db))
	gate := auth.NewGate(cfg.AdminIDs)
	ledger := quota.NewLedger(subjects, cfgStore, gate, log)
	sink := messenger.NewTelegramSink(tg)

	engine := broadcast.NewEngine(subjects, sink, cfgStore, broadcast.Options{
		Interval:    cfg.BroadcastInterval,
		Workers:     cfg.BroadcastWorkers,
		Retries:     cfg.BroadcastRetries,
		SendTimeout: cfg.SendTimeout,
	}, log)

	pipeline := uploads.NewService(ledger, repository.NewArtifactRepository(db), store, cfgStore, uploads.Options{
		Timeout:  cfg.StorageTimeout,
		MaxBytes: cfg.MaxUploadBytes,
	}, log)

	dispatcher := flow.NewDispatcher(flow.Deps{
		Subjects:    subjects,
		Ledger:      ledger,
		Referrals:   referral.NewGraph(subjects, cfgStore, log),
		Uploads:     pipeline,
		Broadcast:   engine,
		Settings:    cfgStore,
		Usage:       usage.NewCounter(rdb, cfg.UsageRetention),
		States:      state.NewStore(),
		Gate:        gate,
		Sink:        sink,
		BotUsername: me.Username,
		SendTimeout: cfg.SendTimeout,
	}, log)

	// Start Background Worker
	checker := worker.NewChecker(subjects, ledger, sink, worker.NewRedisMarks(rdb), cfg.PremiumInterval, cfg.SendTimeout, log)
	go checker.Start(ctx)

	log.Info().Str("bot", me.Username).Int("admins", len(cfg.AdminIDs)).Msg("Service started successfully")
	transport := bot.NewBot(tg, dispatcher, bot.Options{
		SendTimeout:     cfg.SendTimeout,
		DownloadTimeout: cfg.StorageTimeout,
		MaxDownload:     cfg.MaxUploadBytes,
	}, log)
	if err := transport.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Bot stopped with error")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("Shut down gracefully")
}
