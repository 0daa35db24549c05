// aftpctl is a command line client for an aftp server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/internal/logging"
	"github.com/fruitsalade/aftp/pkg/client"
)

var (
	rootArgs struct {
		server   string
		clientID string
		token    string
		timeout  time.Duration
		logLevel string
	}

	rootCmd = &cobra.Command{
		Use:           "aftpctl",
		Short:         "Browse and edit the file tree of an aftp server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logging.Init(logging.Config{
				Level:      rootArgs.logLevel,
				Format:     "console",
				OutputPath: "stderr",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootArgs.server, "server", envOr("AFTP_SERVER", "http://localhost:8080"), "Server base URL")
	rootCmd.PersistentFlags().StringVar(&rootArgs.clientID, "client-id", os.Getenv("AFTP_CLIENT_ID"), "Client id sent as the Authorization header")
	rootCmd.PersistentFlags().StringVar(&rootArgs.token, "token", os.Getenv("AFTP_TOKEN"), "Bearer token, used instead of --client-id")
	rootCmd.PersistentFlags().DurationVar(&rootArgs.timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&rootArgs.logLevel, "log-level", "warn", "Log level")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newClient builds an API client from the persistent flags.
func newClient() *client.Client {
	return client.New(client.Config{
		BaseURL:  rootArgs.server,
		Timeout:  rootArgs.timeout,
		ClientID: rootArgs.clientID,
		Token:    rootArgs.token,
		Logger:   logging.L(),
	})
}

// commandContext bounds cmd by the --timeout flag.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if rootArgs.timeout > 0 {
		return context.WithTimeout(ctx, rootArgs.timeout)
	}
	return context.WithCancel(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Debug("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
