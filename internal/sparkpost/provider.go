package sparkpost

import (
	"context"
	"strings"

	"github.com/shineum/sparkpost-relay-lite/internal/email"
	"github.com/shineum/sparkpost-relay-lite/internal/headers"
)

// Provider delivers messages received by the SMTP front end through a Mailer.
type Provider struct {
	mailer *Mailer
}

// NewProvider wraps m as a provider.Provider.
func NewProvider(m *Mailer) *Provider {
	return &Provider{mailer: m}
}

// Send converts msg and transmits it.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	_, err := p.mailer.Send(ctx, MessageFromEmail(msg))
	return err
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "sparkpost"
}

// MessageFromEmail maps a parsed SMTP message onto send arguments.
//
// The original header lines are kept in order, except Cc and Bcc which are
// rebuilt from the parsed address lists so display names do not leak into
// recipient addresses. Envelope recipients missing from every header are
// added as Bcc.
func MessageFromEmail(msg *email.Email) Message {
	to := msg.To
	hidden := msg.HiddenRecipients()
	if len(to) == 0 {
		to, hidden = msg.Envelope.Recipients, nil
	}

	lines := make([]string, 0, len(msg.HeaderLines)+2)
	for _, line := range msg.HeaderLines {
		name, _, _ := strings.Cut(line, ":")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "cc", "bcc":
			continue
		}
		lines = append(lines, line)
	}
	if len(msg.Cc) > 0 {
		lines = append(lines, "Cc: "+strings.Join(msg.Cc, ", "))
	}
	bcc := append(append([]string(nil), msg.Bcc...), hidden...)
	if len(bcc) > 0 {
		lines = append(lines, "Bcc: "+strings.Join(bcc, ", "))
	}

	attachments := make([]AttachmentSource, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, AttachmentData{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     att.Content,
		})
	}

	return Message{
		To:          Addresses(to),
		Subject:     msg.Subject,
		HTML:        msg.HtmlBody,
		Text:        msg.TextBody,
		Headers:     headers.Lines(lines),
		Attachments: attachments,
	}
}
