package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvinther/job-agent/internal/profile"
	"github.com/kvinther/job-agent/internal/sink/email"
	"github.com/kvinther/job-agent/internal/source/boardapi"
	"github.com/kvinther/job-agent/internal/source/feedfile"
)

const (
	app = "job-agent"
)

type Config struct {
	Profile  *profile.CandidateProfile `mapstructure:"profile"`
	Database *DatabaseConfig           `mapstructure:"database"`
	Sources  *SourcesConfig            `mapstructure:"sources"`
	Scoring  *ScoringConfig            `mapstructure:"scoring"`
	Digest   *DigestConfig             `mapstructure:"digest"`
	Email    *EmailConfig              `mapstructure:"email"`
	// Sectors maps a sector name to keywords that place a listing in it.
	Sectors map[string][]string `mapstructure:"sectors"`
}

type DatabaseConfig struct {
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn-file"`
}

type SourcesConfig struct {
	Boards []boardapi.Config `mapstructure:"boards"`
	Feeds  []feedfile.Config `mapstructure:"feeds"`
}

type ScoringConfig struct {
	Batch          int           `mapstructure:"batch"`
	Concurrency    int           `mapstructure:"concurrency"`
	RecentFeedback int           `mapstructure:"recent-feedback"`
	Gemini         *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile        string `mapstructure:"api-key-file"`
	Model             string `mapstructure:"model"`
	MaxRetries        int    `mapstructure:"max-retries"`
	RequestsPerMinute int    `mapstructure:"requests-per-minute"`
	MaxLogLength      int    `mapstructure:"max-log-length"`
}

type DigestConfig struct {
	MinRelevance int      `mapstructure:"min-relevance"`
	MustInclude  []string `mapstructure:"must-include"`
}

type EmailConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	PasswordFile string `mapstructure:"password-file"`

	email.Config `mapstructure:",squash"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "job-agent aggregates job listings, scores them against your profile and mails a digest",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("database.dsn", "JOB_AGENT_DATABASE_DSN"); err != nil {
		log.Fatalf("binding JOB_AGENT_DATABASE_DSN environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is job-agent.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Only the version command works without a config.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

func defaultDigestConfig() *DigestConfig {
	return &DigestConfig{MinRelevance: 60}
}
