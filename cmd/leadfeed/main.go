package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/leadfeed/internal/client"
	"github.com/dgnsrekt/leadfeed/internal/config"
)

var (
	cfgFile string
	envFile string
	verbose bool
	logger  *zap.Logger
	cfg     *config.Config
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose || (logCfg != nil && logCfg.Development) {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	if logCfg != nil && logCfg.Level != "" && !verbose {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	return zapConfig.Build()
}

// loadEnvFile reads KEY=value pairs into the environment. A missing default
// file is fine; a missing explicit one is not.
func loadEnvFile(path string, explicit bool) error {
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "leadfeed",
		Short:        "Advisor availability feed and lead submission backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				var err error
				logger, err = setupLogger(verbose, nil)
				return err
			}

			if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			logger, err = setupLogger(verbose, &cfg.Logging)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("LEADFEED_CONFIG"), "config file path (or set LEADFEED_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(quoteCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newHTTPClient builds the resilience-layer client from the client section.
func newHTTPClient(scenarioID string) *client.HTTPClient {
	cc := cfg.Client
	return client.NewHTTPClient(client.Config{
		BaseURL:       cc.BaseURL,
		QuoteTimeout:  cc.QuoteTimeout,
		SubmitTimeout: cc.SubmitTimeout,
		ResyncTimeout: cc.ResyncTimeout,
		MaxAttempts:   cc.MaxAttempts,
		Backoff: client.Backoff{
			Base:   cc.BackoffBase,
			Max:    cc.BackoffMax,
			Jitter: cc.BackoffJitter,
		},
		RatePerSecond: cc.RatePerSecond,
		Burst:         cc.Burst,
		ScenarioID:    scenarioID,
	}, logger)
}
