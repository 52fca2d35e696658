package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/gattsrv/pkg/config"
)

// loadConfig reads --config when given, then applies the flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("profile") {
		cfg.Profile, _ = flags.GetString("profile")
	}
	if f := flags.Lookup("transport"); f != nil && f.Changed {
		cfg.Transport.Kind = f.Value.String()
	}
	if f := flags.Lookup("addr"); f != nil && f.Changed {
		cfg.Transport.Address = f.Value.String()
	}
	if f := flags.Lookup("max-mtu"); f != nil && f.Changed {
		cfg.ServerMaxMTU, _ = flags.GetInt("max-mtu")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureLogger creates the process logger. Logs always go to stderr: with the stdio
// transport stdout carries PDUs.
func configureLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Logger {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger
}
