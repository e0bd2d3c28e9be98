package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/mailmate/internal/credential"
	"github.com/nhle/mailmate/internal/model"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mailmate",
	Short: "Email support bot",
	Long: `mailmate polls a mailbox for unread mail from registered users,
generates a supportive reply for each message and emails it back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(),
		"path to the YAML config file")

	rootCmd.AddCommand(serveCmd, checkCmd, credentialCmd)
}

// loadRuntime loads and validates the configuration, fills secrets from
// the keyring and builds the logger.
func loadRuntime() (*model.AppConfig, *zap.Logger, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Mail.Password == "" || cfg.AI.APIKey == "" {
		creds, err := credential.Open()
		if err != nil {
			log.Warn("keyring unavailable", zap.Error(err))
		} else {
			cfg.ResolveSecrets(creds.Get)
		}
	}

	if err := cfg.Validate(); err != nil {
		_ = log.Sync()
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, log, nil
}
