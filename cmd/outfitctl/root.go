package main

import (
	"io"
	"os"
	"strings"

	"github.com/sdko-org/outfit-relay/internal/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type commandContext struct {
	server  string
	token   string
	origin  string
	verbose bool
}

func (c *commandContext) client() *client.Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if c.verbose {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.DebugLevel)
	}
	return client.New(logger, c.server, c.token, c.origin)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "outfitctl",
		Short:         "Command line client for the outfit relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.server, "server", envOr("OUTFIT_RELAY_URL", "http://localhost:5001"), "Relay base URL")
	flags.StringVar(&ctx.token, "token", os.Getenv("SHARED_SECRET"), "Shared secret sent as X-Auth-Token")
	flags.StringVar(&ctx.origin, "origin", envOr("OUTFIT_RELAY_ORIGIN", "http://localhost"), "Origin header sent with mutating requests")
	flags.BoolVarP(&ctx.verbose, "verbose", "v", false, "Log HTTP requests to stderr")

	rootCmd.AddCommand(newSendCommand(ctx))
	rootCmd.AddCommand(newOverlayCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))

	return rootCmd
}
