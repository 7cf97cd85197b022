package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattsim/pkg/config"
)

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level takes precedence over --verbose, which takes precedence over the
// config file.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	level := cfg.LogLevel

	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		if _, err := config.ParseLogLevel(s); err != nil {
			return nil, err
		}
		level = s
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}

	scoped := *cfg
	scoped.LogLevel = level
	logger := scoped.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}

// quietLogger is used by commands whose output is the point, so routine info
// logs stay out of the way unless asked for.
func quietLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	if s, _ := cmd.Flags().GetString("log-level"); s == "" {
		if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
			logger.SetLevel(logrus.WarnLevel)
		}
	}
	return logger, nil
}
