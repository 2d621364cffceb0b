// Package stdout implements a dry-run Provider that prints the SparkPost
// transmission a message would produce instead of sending it.
package stdout

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/sparkpost-relay-lite/internal/email"
	"github.com/shineum/sparkpost-relay-lite/internal/sparkpost"
)

const separator = "========================================\n"

// Provider renders transmissions as indented JSON.
type Provider struct {
	builder *sparkpost.Builder
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a stdout Provider that writes to os.Stdout.
func New(builder *sparkpost.Builder) *Provider {
	return NewWithWriter(builder, os.Stdout)
}

// NewWithWriter creates a stdout Provider that writes to w.
func NewWithWriter(builder *sparkpost.Builder, w io.Writer) *Provider {
	return &Provider{builder: builder, writer: w}
}

// Send prints the transmission built from msg.
func (p *Provider) Send(_ context.Context, msg *email.Email) error {
	return p.Print(sparkpost.MessageFromEmail(msg))
}

// Print builds the transmission for msg and writes it between separator
// lines. Attachment data is replaced by a size summary.
func (p *Provider) Print(msg sparkpost.Message) error {
	t, err := p.builder.Build(msg)
	if err != nil {
		return err
	}

	printable := *t
	printable.Content.Attachments = summarize(t.Content.Attachments)

	body, err := json.MarshalIndent(printable, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render transmission: %w", err)
	}

	var b strings.Builder
	b.WriteString(separator)
	b.WriteString("POST " + sparkpost.DefaultEndpoint + "\n")
	b.Write(body)
	b.WriteString("\n")
	b.WriteString(separator)

	// Output is best effort; a failed write does not make delivery fail.
	_, _ = io.WriteString(p.writer, b.String())
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func summarize(attachments []sparkpost.Attachment) []sparkpost.Attachment {
	out := make([]sparkpost.Attachment, len(attachments))
	for i, att := range attachments {
		out[i] = att
		out[i].Data = fmt.Sprintf("<%s>", formatSize(decodedLen(att.Data)))
	}
	return out
}

// decodedLen returns the byte length of a base64 data URI payload.
func decodedLen(dataURI string) int {
	_, payload, ok := strings.Cut(dataURI, ";base64,")
	if !ok {
		return len(dataURI)
	}
	return base64.StdEncoding.DecodedLen(len(payload)) - strings.Count(payload, "=")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
