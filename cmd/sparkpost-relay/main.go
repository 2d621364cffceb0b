// Command sparkpost-relay delivers mail through the SparkPost transmissions
// API, either as an SMTP relay or as a one-shot sender.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shineum/sparkpost-relay-lite/internal/config"
)

// rootOptions holds the flags shared by all subcommands.
type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sparkpost-relay",
		Short:         "Relay mail through the SparkPost transmissions API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")

	cmd.AddCommand(newServeCmd(opts), newSendCmd(opts))
	return cmd
}

// load reads the configuration and installs the global logger.
func (o *rootOptions) load(logOut io.Writer) (*config.Config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(logOut, cfg.Logging.Level)
	return cfg, nil
}

// loadConfig loads configuration from path (YAML plus environment) or from
// the environment alone when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger installs a JSON slog handler at the given level.
func setupLogger(w io.Writer, level string) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
