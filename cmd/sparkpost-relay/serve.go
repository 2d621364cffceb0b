package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/sparkpost-relay-lite/internal/smtp"
	smtptls "github.com/shineum/sparkpost-relay-lite/internal/tls"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SMTP relay until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(os.Stdout)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			prov, err := selectProvider(ctx, cfg)
			if err != nil {
				return err
			}

			tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
			if err != nil {
				return err
			}
			tlsMode := "self-signed"
			if cfg.TLS.CertFile != "" {
				tlsMode = "file"
			}

			server := smtp.New(smtp.ServerConfig{
				ListenAddr:     cfg.SMTP.Listen,
				Hostname:       cfg.SMTP.Hostname,
				Provider:       prov,
				TLSConfig:      tlsConfig,
				AuthUsername:   cfg.SMTP.Username,
				AuthPassword:   cfg.SMTP.Password,
				MaxMessageSize: cfg.SMTP.MaxMessageSize,
			})

			slog.Info("starting sparkpost-relay",
				"listen", cfg.SMTP.Listen,
				"provider", prov.Name(),
				"auth_enabled", cfg.AuthEnabled(),
				"tls_mode", tlsMode,
			)

			if err := server.ListenAndServe(ctx); err != nil {
				return err
			}
			slog.Info("sparkpost-relay stopped", "reason", context.Cause(ctx))
			return nil
		},
	}
}
