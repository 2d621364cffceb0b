package sparkpost

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/shineum/sparkpost-relay-lite/internal/headers"
)

// Config holds the settings of a Mailer.
type Config struct {
	// APIKey is the SparkPost API key. Required.
	APIKey string

	// Endpoint overrides DefaultEndpoint.
	Endpoint string

	// SiteURL and SiteName determine the default sender.
	SiteURL  string
	SiteName string

	// HTTPClient overrides the default client with a 30s timeout.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Mailer builds and sends transmissions. It holds no per-call state and is
// safe for concurrent use.
type Mailer struct {
	builder *Builder
	client  *Client
	logger  *slog.Logger
}

// New creates a Mailer. It returns ErrNotConfigured when cfg has no API key,
// in which case nothing can be sent.
func New(cfg Config, opts ...BuilderOption) (*Mailer, error) {
	client, err := NewClient(cfg.APIKey,
		WithEndpoint(cfg.Endpoint),
		WithHTTPClient(cfg.HTTPClient),
	)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Mailer{
		builder: NewBuilder(cfg.SiteURL, cfg.SiteName, opts...),
		client:  client,
		logger:  logger,
	}, nil
}

// Send builds the transmission for msg and posts it.
func (m *Mailer) Send(ctx context.Context, msg Message) (*Result, error) {
	if m == nil || m.client == nil {
		return nil, ErrNotConfigured
	}

	logger := m.logger.With("ref", uuid.NewString())

	t, err := m.builder.Build(msg)
	if err != nil {
		logger.Warn("failed to build transmission", "error", err)
		return nil, err
	}

	result, err := m.client.Transmit(ctx, t)
	if err != nil {
		logger.Error("transmission failed",
			"recipients", len(t.Recipients),
			"error", err,
		)
		return nil, err
	}

	logger.Info("transmission accepted",
		"id", result.ID,
		"recipients", len(t.Recipients),
		"accepted", result.TotalAccepted,
		"rejected", result.TotalRejected,
	)
	return result, nil
}

// SendMail mirrors the wp_mail entry point: it reports true only when the
// API answered HTTP 200. Every failure, including a Mailer without an API
// key, yields false.
func (m *Mailer) SendMail(ctx context.Context, to Recipients, subject, html string, hdrs headers.Input, attachments ...AttachmentSource) bool {
	_, err := m.Send(ctx, Message{
		To:          to,
		Subject:     subject,
		HTML:        html,
		Headers:     hdrs,
		Attachments: attachments,
	})
	return err == nil
}
