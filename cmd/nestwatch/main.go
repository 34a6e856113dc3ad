package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nestwatch/nestwatch/internal/alerts"
	"github.com/nestwatch/nestwatch/internal/analyzer"
	"github.com/nestwatch/nestwatch/internal/cache"
	"github.com/nestwatch/nestwatch/internal/config"
	"github.com/nestwatch/nestwatch/internal/crypto"
	"github.com/nestwatch/nestwatch/internal/custodian"
	"github.com/nestwatch/nestwatch/internal/lexicon"
	"github.com/nestwatch/nestwatch/internal/logging"
	"github.com/nestwatch/nestwatch/internal/notifications"
	"github.com/nestwatch/nestwatch/internal/scan"
	"github.com/nestwatch/nestwatch/internal/schedule"
	"github.com/nestwatch/nestwatch/internal/store"
	"github.com/nestwatch/nestwatch/pkg/audit"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "nestwatch",
	Short:   "NestWatch - parental oversight service for children's YouTube activity",
	Long:    `NestWatch scans linked YouTube accounts for risky content and raises alerts for parents. Running without a subcommand starts the service: the scan worker pool, the nightly sweep scheduler, and the metrics endpoint.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scanCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("NestWatch %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan <linked-account-id>",
	Short: "Enqueue a scan for one linked account",
	Long:  `Enqueue a scan task for the given linked account and print the task id. A running NestWatch service picks the task up from the queue.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || accountID <= 0 {
			return fmt.Errorf("invalid linked account id %q", args[0])
		}
		return enqueueScan(accountID)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func enqueueScan(accountID int64) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	tasks := asynq.NewClient(redisOpt)
	defer tasks.Close()

	taskID, err := scan.NewClient(tasks, cache.NewRedis(rdb)).EnqueueScan(ctx, accountID)
	if err != nil {
		return err
	}
	fmt.Println(taskID)
	return nil
}

func runServer() {
	// Baseline logger for early startup logs, before configuration is read
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "nestwatch",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Re-initialize logging with configuration-driven settings
	logging.Init(logging.Config{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Component:  "nestwatch",
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   true,
	})
	defer logging.Shutdown()

	log.Info().Str("version", Version).Msg("Starting NestWatch service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer st.Close()

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	c := cache.NewRedis(rdb)

	auditLogger, err := audit.NewStoreLogger(st.DB(), []byte(cfg.SecretKey))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audit logging")
	}
	audit.SetLogger(auditLogger)

	cipher, err := crypto.NewTokenCipher(cfg.TokenEncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token encryption")
	}

	cust := custodian.New(st, cipher, cfg)
	synth := alerts.New(st, notifications.New(st, cfg))
	worker := scan.NewWorker(st, c, cust, analyzer.New(lexicon.MustDefault()), synth, cfg)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid Redis URL")
	}

	srv := scan.NewServer(redisOpt, cfg.ScanConcurrency)
	if err := srv.Start(scan.NewMux(worker)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scan workers")
	}
	log.Info().Int("concurrency", cfg.ScanConcurrency).Msg("Scan workers started")

	tasks := asynq.NewClient(redisOpt)
	defer tasks.Close()
	scans := scan.NewClient(tasks, c)

	sched := schedule.New(st, scans, cfg.ScanSchedule)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scan scheduler exited")
		}
	}()

	startMetricsServer(ctx, cfg.MetricsAddr)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down service...")

	// Stop the scheduler and metrics server, then drain in-flight scans
	cancel()
	<-schedDone
	srv.Shutdown()

	log.Info().Msg("Service stopped")
}
