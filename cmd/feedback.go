package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kvinther/job-agent/internal/feedback"
	"github.com/kvinther/job-agent/internal/logger"
	"github.com/kvinther/job-agent/internal/storage/postgres"
)

const (
	promptLike    = "Like"
	promptDislike = "Dislike"
	promptDone    = "done"

	// recentListingsShown bounds the interactive picker.
	recentListingsShown = 25
)

var errDone = errors.New("done requested")

var feedbackCmd = &cobra.Command{
	Use:   "feedback [like|dislike] [fingerprint]",
	Short: "Record like/dislike feedback on delivered listings",
	Long: `Record feedback used as context for future relevance scoring.

Without arguments an interactive picker over recently delivered listings
is shown. With arguments, feedback is recorded directly:

  job-agent feedback like 4f1d9c0a2b8e7f31 -m "good sector"`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runFeedback(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)

	feedbackCmd.Flags().StringP("note", "m", "", "optional note stored with the feedback")
}

func runFeedback(cmd *cobra.Command, args []string) {
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

	listings := postgres.NewListingStore(db)
	store := postgres.NewFeedbackStore(db)

	if len(args) == 2 {
		fbType, err := feedback.ParseType(args[0])
		if err != nil {
			logger.Fatal("invalid feedback type", zap.Error(err))
		}
		note := cmd.Flag("note").Value.String()

		if err := record(ctx, store, logger, args[1], fbType, note); err != nil {
			logger.Fatal("recording feedback", zap.Error(err))
		}
		return
	}

	if err := interactiveFeedback(ctx, listings, store, logger); err != nil && !errors.Is(err, errDone) {
		logger.Fatal("exiting", zap.Error(err))
	}
}

func record(ctx context.Context, store *postgres.FeedbackStore, logger *zap.Logger, fingerprint string, fbType feedback.Type, note string) error {
	inserted, err := store.Record(ctx, feedback.Feedback{
		ListingFingerprint: fingerprint,
		Type:               fbType,
		Note:               note,
		CreatedAt:          time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if !inserted {
		logger.Info("identical feedback already recorded", zap.String("fingerprint", fingerprint))
		return nil
	}

	logger.Info("feedback recorded",
		zap.String("fingerprint", fingerprint),
		zap.String("type", string(fbType)),
	)
	return nil
}

// interactiveFeedback loops over recently delivered listings until the user
// picks done.
func interactiveFeedback(ctx context.Context, listings *postgres.ListingStore, store *postgres.FeedbackStore, logger *zap.Logger) error {
	recent, err := listings.RecentNotified(ctx, recentListingsShown)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		logger.Info("no delivered listings to give feedback on yet")
		return nil
	}

	for {
		items := make([]string, 0, len(recent)+1)
		for _, l := range recent {
			items = append(items, fmt.Sprintf("%s %s / %s / %s", l.Fingerprint, l.Title, l.Company, l.Location))
		}

		listingPrompt := promptui.Select{
			Label: "Choose a listing and press ENTER",
			Items: append(items, promptDone),
			Size:  10,
		}

		_, selected, err := listingPrompt.Run()
		if err != nil {
			return err
		}
		if selected == promptDone {
			return errDone
		}

		fingerprint := strings.Split(selected, " ")[0]

		typePrompt := promptui.Select{
			Label: "Your verdict",
			Items: []string{promptLike, promptDislike, promptDone},
		}
		_, verdict, err := typePrompt.Run()
		if err != nil {
			return err
		}
		if verdict == promptDone {
			continue
		}

		fbType := feedback.TypeLike
		if verdict == promptDislike {
			fbType = feedback.TypeDislike
		}

		notePrompt := promptui.Prompt{Label: "Note (optional)"}
		note, err := notePrompt.Run()
		if err != nil {
			return err
		}

		if err := record(ctx, store, logger, fingerprint, fbType, note); err != nil {
			return err
		}
	}
}
