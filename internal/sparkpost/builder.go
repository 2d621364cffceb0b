package sparkpost

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/shineum/sparkpost-relay-lite/internal/headers"
)

// defaultLocalPart is the local part of the derived sender address.
const defaultLocalPart = "wordpress"

// MessageFilter transforms the send arguments before anything is built.
type MessageFilter func(Message) Message

// TransmissionFilter transforms a transmission at one of the builder stages.
type TransmissionFilter func(Transmission) Transmission

// StringFilter transforms a single sender field.
type StringFilter func(string) string

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithMessageFilters appends filters applied to the raw send arguments.
func WithMessageFilters(filters ...MessageFilter) BuilderOption {
	return func(b *Builder) {
		b.messageFilters = append(b.messageFilters, filters...)
	}
}

// WithPreMessageFilters appends filters applied to the freshly assembled
// transmission, before attachments and headers are added.
func WithPreMessageFilters(filters ...TransmissionFilter) BuilderOption {
	return func(b *Builder) {
		b.preFilters = append(b.preFilters, filters...)
	}
}

// WithHeaderFilters appends filters applied right after header parsing.
// They only run when the message carries headers.
func WithHeaderFilters(filters ...TransmissionFilter) BuilderOption {
	return func(b *Builder) {
		b.headerFilters = append(b.headerFilters, filters...)
	}
}

// WithFinalFilters appends filters applied to the completed transmission
// immediately before it is returned for dispatch.
func WithFinalFilters(filters ...TransmissionFilter) BuilderOption {
	return func(b *Builder) {
		b.finalFilters = append(b.finalFilters, filters...)
	}
}

// WithSenderEmailFilters appends filters applied to the from address.
func WithSenderEmailFilters(filters ...StringFilter) BuilderOption {
	return func(b *Builder) {
		b.senderEmailFilters = append(b.senderEmailFilters, filters...)
	}
}

// WithSenderNameFilters appends filters applied to the from display name.
func WithSenderNameFilters(filters ...StringFilter) BuilderOption {
	return func(b *Builder) {
		b.senderNameFilters = append(b.senderNameFilters, filters...)
	}
}

// WithSender overrides the derived sender. Empty arguments keep the default.
func WithSender(email, name string) BuilderOption {
	return func(b *Builder) {
		if email != "" {
			b.senderEmailFilters = append(b.senderEmailFilters, constant(email))
		}
		if name != "" {
			b.senderNameFilters = append(b.senderNameFilters, constant(name))
		}
	}
}

// WithPlainTextFromHTML fills content.text with a plain-text rendering of
// the HTML body when the message has no text body of its own.
func WithPlainTextFromHTML() BuilderOption {
	return func(b *Builder) {
		policy := bluemonday.StrictPolicy()
		policy.AddSpaceWhenStrippingTag(true)
		b.textPolicy = policy
	}
}

func constant(v string) StringFilter {
	return func(string) string { return v }
}

// Builder turns send arguments into SparkPost transmissions.
// A Builder is immutable after construction and safe for concurrent use.
type Builder struct {
	sender Sender

	messageFilters     []MessageFilter
	preFilters         []TransmissionFilter
	headerFilters      []TransmissionFilter
	finalFilters       []TransmissionFilter
	senderEmailFilters []StringFilter
	senderNameFilters  []StringFilter

	textPolicy *bluemonday.Policy
}

// NewBuilder creates a Builder whose default sender is derived from the
// site URL and site name.
func NewBuilder(siteURL, siteName string, opts ...BuilderOption) *Builder {
	b := &Builder{sender: DefaultSender(siteURL, siteName)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DefaultSender derives the sender identity of a site: the address is
// "wordpress@" followed by the lower-cased host with any leading "www."
// removed, the name is the site name.
func DefaultSender(siteURL, siteName string) Sender {
	return Sender{
		Email: defaultLocalPart + "@" + siteDomain(siteURL),
		Name:  siteName,
	}
}

func siteDomain(siteURL string) string {
	raw := strings.TrimSpace(siteURL)
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}

	host := ""
	if u, err := url.Parse(raw); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "localhost"
	}
	return host
}

// Build assembles the transmission for msg.
//
// Stages run in order: message filters, assembly with defaults, pre-message
// filters, attachment encoding, header parsing and header filters, sender
// filters, final filters. The result is rejected with ErrNoRecipients when
// no recipient is left, and with an *AttachmentError when a file cannot be read.
func (b *Builder) Build(msg Message) (*Transmission, error) {
	for _, filter := range b.messageFilters {
		msg = filter(msg)
	}

	t := Transmission{
		Recipients: normalizeRecipients(msg.To),
		Content: Content{
			HTML:         msg.HTML,
			Subject:      msg.Subject,
			From:         b.sender,
			Headers:      Headers{Custom: make(map[string]string)},
			Attachments:  []Attachment{},
			InlineImages: []Attachment{},
		},
		Metadata:         make(map[string]any),
		SubstitutionData: make(map[string]any),
	}
	if text := b.plainText(msg); text != "" {
		t.Content.Text = &text
	}

	t = applyFilters(t, b.preFilters)

	for _, src := range msg.Attachments {
		if src == nil {
			continue
		}
		att, err := src.load()
		if err != nil {
			return nil, err
		}
		t.Content.Attachments = append(t.Content.Attachments, att)
	}

	if len(headers.Normalize(msg.Headers)) > 0 {
		t = applyHeaders(t, headers.Parse(msg.Headers))
		t = applyFilters(t, b.headerFilters)
	}

	for _, filter := range b.senderEmailFilters {
		t.Content.From.Email = filter(t.Content.From.Email)
	}
	for _, filter := range b.senderNameFilters {
		t.Content.From.Name = filter(t.Content.From.Name)
	}

	t = applyFilters(t, b.finalFilters)

	if len(t.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return &t, nil
}

func (b *Builder) plainText(msg Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if b.textPolicy == nil || msg.HTML == "" {
		return ""
	}
	stripped := html.UnescapeString(b.textPolicy.Sanitize(msg.HTML))
	return strings.Join(strings.Fields(stripped), " ")
}

func applyFilters(t Transmission, filters []TransmissionFilter) Transmission {
	for _, filter := range filters {
		t = filter(t)
	}
	return t
}

func applyHeaders(t Transmission, parsed headers.Parsed) Transmission {
	for _, addr := range parsed.Cc {
		t.Content.Headers.Cc = append(t.Content.Headers.Cc, Recipient{Email: addr, Type: RecipientCc})
	}
	for _, addr := range parsed.Bcc {
		t.Content.Headers.Bcc = append(t.Content.Headers.Bcc, Recipient{Email: addr, Type: RecipientBcc})
	}
	if !t.Important {
		t.Important = parsed.Important
	}
	if t.Content.Headers.Custom == nil {
		t.Content.Headers.Custom = make(map[string]string, len(parsed.Custom))
	}
	for name, value := range parsed.Custom {
		t.Content.Headers.Custom[name] = value
	}
	return t
}
