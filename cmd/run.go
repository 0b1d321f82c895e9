package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kvinther/job-agent/internal/ai"
	"github.com/kvinther/job-agent/internal/ai/gemini"
	"github.com/kvinther/job-agent/internal/digest"
	"github.com/kvinther/job-agent/internal/listing"
	"github.com/kvinther/job-agent/internal/logger"
	"github.com/kvinther/job-agent/internal/pipeline"
	"github.com/kvinther/job-agent/internal/secrets"
	"github.com/kvinther/job-agent/internal/sink"
	"github.com/kvinther/job-agent/internal/sink/console"
	"github.com/kvinther/job-agent/internal/sink/email"
	"github.com/kvinther/job-agent/internal/source"
	"github.com/kvinther/job-agent/internal/source/boardapi"
	"github.com/kvinther/job-agent/internal/source/feedfile"
	"github.com/kvinther/job-agent/internal/storage/postgres"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full cycle: fetch, deduplicate, score and deliver the digest",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("dry-run", false, "print the digest to stdout instead of mailing it")
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the job-agent", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}

	if config.Profile == nil {
		logger.Fatal("a candidate profile is required under the 'profile' key")
	}
	if err := config.Profile.Validate(); err != nil {
		logger.Fatal("invalid candidate profile", zap.Error(err))
	}

	db, err := openDatabase(ctx, config)
	if err != nil {
		logger.Fatal("opening the database",
			zap.Error(err),
			zap.String("hint", "set JOB_AGENT_DATABASE_DSN or the 'database.dsn' key in the configuration file"),
		)
	}
	defer db.Close()

	connectors := buildConnectors(config, logger)
	if len(connectors) == 0 {
		logger.Fatal("no sources configured under the 'sources' key")
	}

	scorer, err := buildScorer(ctx, config.Scoring, logger)
	if err != nil {
		logger.Fatal("building the scorer",
			zap.Error(err),
			zap.String("hint", "set scoring.gemini.api-key-file or GEMINI_API_KEY"),
		)
	}

	digestCfg := config.Digest
	if digestCfg == nil {
		digestCfg = defaultDigestConfig()
	}

	deliverTo, err := buildSink(cmd, config, logger)
	if err != nil {
		logger.Fatal("building the digest sink", zap.Error(err))
	}

	var pipeCfg pipeline.Config
	if config.Scoring != nil {
		pipeCfg = pipeline.Config{
			ScoreBatch:     config.Scoring.Batch,
			Concurrency:    config.Scoring.Concurrency,
			RecentFeedback: config.Scoring.RecentFeedback,
		}
	}

	listings := postgres.NewListingStore(db)

	coordinator := pipeline.NewCoordinator(
		connectors,
		listing.NewNormalizer(config.Sectors, logger),
		listing.NewResolver(logger),
		listings,
		postgres.NewFeedbackStore(db),
		postgres.NewTransactionManager(db),
		scorer,
		digest.NewComposer(digestCfg.MinRelevance, digestCfg.MustInclude, logger),
		deliverTo,
		config.Profile,
		pipeCfg,
		logger,
	)

	stats, err := coordinator.Run(ctx)
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}

	for src, srcErr := range stats.SourceErrors {
		logger.Warn("source failed during this run", zap.String("source", src), zap.Error(srcErr))
	}

	if storeStats, err := listings.Stats(ctx); err == nil {
		logger.Info("store stats after run",
			zap.Int("listings", storeStats.Listings),
			zap.Int("scored", storeStats.Scored),
			zap.Int("notified", storeStats.Notified),
			zap.Int("feedback", storeStats.Feedback),
		)
	}
}

func openDatabase(ctx context.Context, config *Config) (*sqlx.DB, error) {
	dbCfg := config.Database
	if dbCfg == nil {
		dbCfg = &DatabaseConfig{}
	}

	dsn, err := secrets.Load(secrets.Source{
		Name:  "database dsn",
		Value: dbCfg.DSN,
		File:  dbCfg.DSNFile,
		Env:   "JOB_AGENT_DATABASE_DSN",
	})
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return db, nil
}

func buildConnectors(config *Config, logger *zap.Logger) []source.Connector {
	var connectors []source.Connector
	if config.Sources == nil {
		return connectors
	}

	for _, cfg := range config.Sources.Boards {
		connectors = append(connectors, boardapi.New(cfg, logger))
	}
	for _, cfg := range config.Sources.Feeds {
		connectors = append(connectors, feedfile.New(cfg))
	}
	return connectors
}

func buildScorer(ctx context.Context, cfg *ScoringConfig, logger *zap.Logger) (ai.Scorer, error) {
	if cfg == nil || cfg.Gemini == nil {
		return nil, fmt.Errorf("gemini configuration is required under scoring.gemini")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, err
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	scorerLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", generator.Model()),
	)

	return gemini.NewScorer(generator, gemini.Config{
		MaxRetries:        cfg.Gemini.MaxRetries,
		RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
		MaxLogLength:      cfg.Gemini.MaxLogLength,
	}, scorerLogger), nil
}

func buildSink(cmd *cobra.Command, config *Config, logger *zap.Logger) (sink.Sink, error) {
	dryRun := cmd.Flag("dry-run").Value.String() == "true"

	if dryRun || config.Email == nil || !config.Email.Enabled {
		logger.Info("mail delivery disabled, printing digests to stdout")
		return console.New(), nil
	}

	emailCfg := config.Email.Config
	password, err := secrets.Load(secrets.Source{
		Name: "smtp password",
		File: config.Email.PasswordFile,
		Env:  "JOB_AGENT_SMTP_PASSWORD",
	})
	if err != nil {
		return nil, err
	}
	emailCfg.Password = password

	return email.New(emailCfg, logger)
}
