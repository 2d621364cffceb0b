// Package ses implements a Provider that delivers relayed messages through
// AWS SES v2. It honours the same header conventions as the SparkPost path:
// Cc/Bcc lines, priority markers and X- headers.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/sparkpost-relay-lite/internal/email"
	"github.com/shineum/sparkpost-relay-lite/internal/headers"
)

const (
	maxRetries     = 3
	baseRetryDelay = 1 * time.Second
)

// Config holds the settings for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
	SenderName      string
}

// SendEmailAPI is the subset of the SES v2 client used by Provider.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends messages via the AWS SES v2 API.
type Provider struct {
	from       string
	client     SendEmailAPI
	retryDelay time.Duration
}

// New creates a Provider from cfg. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, cfg.SenderName, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Provider around an existing client.
func NewWithClient(sender, senderName string, client SendEmailAPI) *Provider {
	from := sender
	if senderName != "" {
		from = (&mail.Address{Name: senderName, Address: sender}).String()
	}
	return &Provider{from: from, client: client, retryDelay: baseRetryDelay}
}

// Send delivers msg. Messages with attachments go out as raw MIME, the rest
// use the simple content format.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	env := newEnvelope(msg)
	if len(env.to)+len(env.cc)+len(env.bcc) == 0 {
		return fmt.Errorf("ses: message has no recipients")
	}

	var input *sesv2.SendEmailInput
	if len(msg.Attachments) > 0 {
		raw, err := buildRawMessage(p.from, msg, env)
		if err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(p.from),
			Destination:      env.destination(),
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(p.from, msg, env)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			if err := sleepWithContext(ctx, backoffDelay(p.retryDelay, attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := p.client.SendEmail(ctx, input)
		if err == nil {
			if out != nil {
				slog.Debug("SES accepted message", "message_id", aws.ToString(out.MessageId))
			}
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// envelope is the resolved delivery information for one message.
type envelope struct {
	to, cc, bcc []string
	important   bool
	custom      map[string]string
}

// newEnvelope resolves the destination from the parsed address lists and the
// hidden envelope recipients. Header lines only contribute the priority flag
// and custom headers. Envelope recipients stand in for To when the message
// carries no To header.
func newEnvelope(msg *email.Email) envelope {
	parsed := headers.Parse(headers.Lines(msg.HeaderLines))

	env := envelope{
		to:        msg.To,
		cc:        msg.Cc,
		bcc:       msg.Bcc,
		important: parsed.Important,
		custom:    parsed.Custom,
	}
	if len(env.to) == 0 {
		env.to = msg.Envelope.Recipients
		return env
	}
	env.bcc = mergeAddresses(env.bcc, msg.HiddenRecipients())
	return env
}

func (e envelope) destination() *types.Destination {
	return &types.Destination{
		ToAddresses:  e.to,
		CcAddresses:  e.cc,
		BccAddresses: e.bcc,
	}
}

// customHeaders returns the X- headers sorted by name, plus Importance when
// the message is flagged high priority.
func (e envelope) customHeaders() []types.MessageHeader {
	names := make([]string, 0, len(e.custom))
	for name := range e.custom {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.MessageHeader, 0, len(names)+1)
	for _, name := range names {
		out = append(out, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(e.custom[name]),
		})
	}
	if e.important {
		out = append(out, types.MessageHeader{
			Name:  aws.String("Importance"),
			Value: aws.String("high"),
		})
	}
	return out
}

// mergeAddresses appends extra to base, skipping case-insensitive duplicates.
func mergeAddresses(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, addr := range list {
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

func buildSimpleInput(from string, msg *email.Email, env envelope) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HtmlBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HtmlBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      env.destination(),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body:    body,
				Headers: env.customHeaders(),
			},
		},
	}
}

// buildRawMessage renders msg as multipart/mixed MIME. Bcc recipients are
// only carried by the destination and never written as a header.
func buildRawMessage(from string, msg *email.Email, env envelope) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	if len(env.to) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(env.to, ", "))
	}
	if len(env.cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(env.cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	if msg.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", msg.MessageID)
	}
	for _, h := range env.customHeaders() {
		fmt.Fprintf(&buf, "%s: %s\r\n", aws.ToString(h.Name), aws.ToString(h.Value))
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	switch {
	case msg.HtmlBody != "":
		bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
		if err := writePart(writer, bodyHeader, []byte(msg.HtmlBody)); err != nil {
			return nil, fmt.Errorf("failed to create body part: %w", err)
		}
	case msg.TextBody != "":
		bodyHeader.Set("Content-Type", "text/plain; charset=UTF-8")
		if err := writePart(writer, bodyHeader, []byte(msg.TextBody)); err != nil {
			return nil, fmt.Errorf("failed to create body part: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", att.ContentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s", mime.QEncoding.Encode("UTF-8", att.Filename)))

		if err := writePart(writer, attHeader, []byte(encodeBase64WithLineBreaks(att.Content))); err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(w *multipart.Writer, header textproto.MIMEHeader, content []byte) error {
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(content)
	return err
}

// encodeBase64WithLineBreaks encodes data as base64 wrapped at 76 columns.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

// backoffDelay doubles base for every attempt.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
