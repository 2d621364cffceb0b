package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/sparkpost-relay-lite/internal/config"
	"github.com/shineum/sparkpost-relay-lite/internal/provider"
	"github.com/shineum/sparkpost-relay-lite/internal/provider/ses"
	"github.com/shineum/sparkpost-relay-lite/internal/provider/stdout"
	"github.com/shineum/sparkpost-relay-lite/internal/sparkpost"
)

// builderOptions translates the sender and content settings into builder
// options.
func builderOptions(cfg *config.Config) []sparkpost.BuilderOption {
	var opts []sparkpost.BuilderOption
	if cfg.Sender.Email != "" || cfg.Sender.Name != "" {
		opts = append(opts, sparkpost.WithSender(cfg.Sender.Email, cfg.Sender.Name))
	}
	if cfg.SparkPost.TextFromHTML {
		opts = append(opts, sparkpost.WithPlainTextFromHTML())
	}
	if cfg.SparkPost.Sandbox {
		opts = append(opts, sparkpost.WithFinalFilters(sandbox))
	}
	return opts
}

func sandbox(t sparkpost.Transmission) sparkpost.Transmission {
	t.Options.Sandbox = true
	return t
}

func newBuilder(cfg *config.Config) *sparkpost.Builder {
	return sparkpost.NewBuilder(cfg.Site.URL, cfg.Site.Name, builderOptions(cfg)...)
}

func newMailer(cfg *config.Config) (*sparkpost.Mailer, error) {
	return sparkpost.New(sparkpost.Config{
		APIKey:   cfg.SparkPost.APIKey,
		Endpoint: cfg.SparkPost.Endpoint,
		SiteURL:  cfg.Site.URL,
		SiteName: cfg.Site.Name,
	}, builderOptions(cfg)...)
}

// selectProvider builds the delivery backend chosen by the configuration.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch name := cfg.ResolvedProvider(); name {
	case config.ProviderSparkPost:
		mailer, err := newMailer(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create SparkPost mailer: %w", err)
		}
		slog.Info("using SparkPost provider",
			"endpoint", endpointOrDefault(cfg.SparkPost.Endpoint),
			"sandbox", cfg.SparkPost.Sandbox,
		)
		return sparkpost.NewProvider(mailer), nil

	case config.ProviderSES:
		sender := sparkpost.DefaultSender(cfg.Site.URL, cfg.Site.Name)
		if cfg.Sender.Name != "" {
			sender.Name = cfg.Sender.Name
		}
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
			SenderName:      sender.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		return p, nil

	default:
		slog.Info("no delivery provider configured, printing transmissions to stdout")
		return stdout.New(newBuilder(cfg)), nil
	}
}

func endpointOrDefault(endpoint string) string {
	if endpoint == "" {
		return sparkpost.DefaultEndpoint
	}
	return endpoint
}
