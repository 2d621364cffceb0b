// Package email defines the message model produced by the SMTP front end.
package email

import "strings"

// Email represents a parsed email message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	MessageID   string

	// HeaderLines holds the top-level headers as unfolded "Name: Value"
	// lines in the order they appeared.
	HeaderLines []string

	// Envelope is the SMTP transaction that carried the message.
	Envelope Envelope
}

// Envelope holds the MAIL FROM and RCPT TO addresses of an SMTP transaction.
type Envelope struct {
	From       string
	Recipients []string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// HiddenRecipients returns the envelope recipients that appear in none of
// the To, Cc and Bcc lists. These are the blind copies of the transaction.
func (e *Email) HiddenRecipients() []string {
	seen := make(map[string]struct{}, len(e.To)+len(e.Cc)+len(e.Bcc))
	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, addr := range list {
			seen[strings.ToLower(addr)] = struct{}{}
		}
	}

	var hidden []string
	for _, addr := range e.Envelope.Recipients {
		key := strings.ToLower(addr)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		hidden = append(hidden, addr)
	}
	return hidden
}
