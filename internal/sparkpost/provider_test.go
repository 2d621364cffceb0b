package sparkpost

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/sparkpost-relay-lite/internal/email"
	"github.com/shineum/sparkpost-relay-lite/internal/headers"
)

func TestMessageFromEmail(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		From:     "Sender <sender@example.com>",
		To:       []string{"alice@example.com"},
		Cc:       []string{"carol@example.com"},
		Subject:  "Quarterly report",
		TextBody: "plain",
		HtmlBody: "<p>html</p>",
		HeaderLines: []string{
			"From: Sender <sender@example.com>",
			"To: Alice <alice@example.com>",
			"Cc: Carol <carol@example.com>",
			"Subject: Quarterly report",
			"X-Mailer: test",
		},
		Attachments: []email.Attachment{
			{Filename: "report.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
		},
		Envelope: email.Envelope{
			From:       "sender@example.com",
			Recipients: []string{"alice@example.com", "carol@example.com", "audit@example.com"},
		},
	}

	got := MessageFromEmail(msg)

	assert.Equal(t, Addresses{"alice@example.com"}, got.To)
	assert.Equal(t, "Quarterly report", got.Subject)
	assert.Equal(t, "<p>html</p>", got.HTML)
	assert.Equal(t, "plain", got.Text)
	assert.Equal(t, headers.Lines{
		"From: Sender <sender@example.com>",
		"To: Alice <alice@example.com>",
		"Subject: Quarterly report",
		"X-Mailer: test",
		"Cc: carol@example.com",
		"Bcc: audit@example.com",
	}, got.Headers)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, AttachmentData{Filename: "report.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")}, got.Attachments[0])
}

func TestMessageFromEmail_EnvelopeFallback(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		Subject: "No To header",
		Envelope: email.Envelope{
			Recipients: []string{"a@example.com", "b@example.com"},
		},
	}

	got := MessageFromEmail(msg)

	assert.Equal(t, Addresses{"a@example.com", "b@example.com"}, got.To)
	assert.Empty(t, got.Headers)
}

func TestProvider_Send(t *testing.T) {
	t.Parallel()

	api := newStubAPI(t, http.StatusOK)
	p := NewProvider(newTestMailer(t, api.URL))

	assert.Equal(t, "sparkpost", p.Name())

	err := p.Send(context.Background(), &email.Email{
		To:          []string{"alice@example.com"},
		Subject:     "Hello",
		HtmlBody:    "<p>hi</p>",
		HeaderLines: []string{"Subject: Hello", "X-Campaign: spring"},
		Envelope: email.Envelope{
			Recipients: []string{"alice@example.com", "hidden@example.com"},
		},
	})
	require.NoError(t, err)

	body := <-api.bodies
	assert.Equal(t, []any{map[string]any{"email": "alice@example.com"}}, body["recipients"])

	hdrs := body["content"].(map[string]any)["headers"].(map[string]any)
	assert.Equal(t, "spring", hdrs["X-Campaign"])
	assert.Equal(t, []any{map[string]any{"email": "hidden@example.com", "type": "bcc"}}, hdrs["bcc"])
	assert.NotContains(t, hdrs, "Subject")
}

func TestProvider_SendFailure(t *testing.T) {
	t.Parallel()

	api := newStubAPI(t, http.StatusBadRequest)
	p := NewProvider(newTestMailer(t, api.URL))

	err := p.Send(context.Background(), &email.Email{To: []string{"a@example.com"}})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
}
