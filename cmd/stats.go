package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kvinther/job-agent/internal/logger"
	"github.com/kvinther/job-agent/internal/storage/postgres"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print counters for stored listings and feedback",
	Run: func(_ *cobra.Command, _ []string) {
		runStats()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats() {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	db, err := openDatabase(ctx, config)
	if err != nil {
		logger.Fatal("opening the database", zap.Error(err))
	}
	defer db.Close()

	stats, err := postgres.NewListingStore(db).Stats(ctx)
	if err != nil {
		logger.Fatal("reading stats", zap.Error(err))
	}

	logger.Info("store stats",
		zap.Int("listings", stats.Listings),
		zap.Int("scored", stats.Scored),
		zap.Int("notified", stats.Notified),
		zap.Int("feedback", stats.Feedback),
	)
}
