package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/tavern-chat/internal/logging"
)

var version = "dev"

type rootOptions struct {
	envFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tavern",
		Short: "Web chat for a hosted generative model",
		Long: `tavern serves a small web chat whose replies stream from a hosted
generative model, and ships a terminal client for the same server.

Quick Start:
  tavern secret            # write SESSION_SECRET into .env
  tavern serve             # listen on $PORT (default 3000)
  tavern chat              # chat from the terminal`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.setup()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newSecretCmd(opts),
		newChatCmd(),
		newHistoryCmd(),
		newClearCmd(),
		newDocsCmd(),
	)
	return cmd
}

// setup loads the dotenv file and configures logging before any subcommand runs.
func (o *rootOptions) setup() {
	envErr := godotenv.Load(o.envFile)

	level := o.logLevel
	if level == "" {
		level = envOr("LOG_LEVEL", "info")
	}
	logging.Setup(level, envOr("LOG_FORMAT", "auto"))

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn().Err(envErr).Str("file", o.envFile).Msg("failed to load env file, continuing with system environment variables only")
	}
}
