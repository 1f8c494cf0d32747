package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/sentiment/config"
	"example.com/backstage/services/sentiment/internal/classify"
	"example.com/backstage/services/sentiment/internal/messaging"
	"example.com/backstage/services/sentiment/internal/metrics"
	"example.com/backstage/services/sentiment/internal/models"
	"example.com/backstage/services/sentiment/internal/search"
	"example.com/backstage/services/sentiment/internal/services"
	"example.com/backstage/services/sentiment/internal/text"
	"example.com/backstage/services/sentiment/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the processing worker",
	Long:  `Start the background worker that claims raw events, classifies their sentiment and persists results and metrics`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize Service Bus client for dead-letter notifications
	bus, err := messaging.NewServiceBusClient(cfg.Azure)
	if err != nil {
		return err
	}
	defer bus.Close()

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Choose the classifier capability: a remote model server when one is
	// configured, the embedded lexicon otherwise
	var classifier classify.Classifier
	if cfg.Pipeline.ClassifierURL != "" {
		log.Info().Str("url", cfg.Pipeline.ClassifierURL).Msg("Using remote classifier")
		classifier = classify.NewRemoteClassifier(cfg.Pipeline.ClassifierURL, cfg.Pipeline.ClassifierTimeout)
	} else {
		log.Info().Msg("Using embedded lexicon classifier")
		classifier = classify.NewLexiconClassifier()
	}

	cleaner := text.NewCleaner(cfg.Pipeline.TargetLanguage)

	// Initialize the pipeline
	pipeline := services.NewPipelineService(
		db, readOnlyDB,
		cleaner, classifier,
		elasticClient, bus,
		metricsCollector, tracer,
		cfg.Pipeline.BatchSize,
	)

	// Run the polling loop on a schedule. Singleton mode guarantees cycles
	// from this process never overlap; concurrency across processes is
	// handled by the claim query itself.
	g.Go(func() error {
		log.Info().
			Dur("poll_interval", cfg.Pipeline.PollInterval).
			Int("batch_size", cfg.Pipeline.BatchSize).
			Msg("Starting pipeline polling loop")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Pipeline.PollInterval),
			gocron.NewTask(func() {
				if _, err := pipeline.RunOnce(ctx); err != nil {
					log.Error().Err(err).Msg("Pipeline cycle failed")
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	// Initialize write database. TranslateError maps driver unique-violation
	// errors to gorm sentinels, which the repositories rely on.
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	// Initialize read-only database
	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	// Configure connection pools for both databases
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying write DB connection")
	}

	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	readSqlDB, err := readOnlyDB.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying read-only DB connection")
	}

	// Higher limits for the read side, it serves the listing endpoints
	readSqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns * 2)
	readSqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns * 2)
	readSqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	return db, readOnlyDB, nil
}
