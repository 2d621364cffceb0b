// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/sparkpost-relay-lite/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// The SMTP front end hands every accepted message to exactly one Provider.
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}
