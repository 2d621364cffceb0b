package sparkpost

import (
	"encoding/base64"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/shineum/sparkpost-relay-lite/internal/headers"
)

// Message holds the arguments of one send call.
type Message struct {
	To          Recipients
	Subject     string
	HTML        string
	Headers     headers.Input
	Attachments []AttachmentSource

	// Text is an optional plain-text body. Senders that only have HTML leave
	// it empty.
	Text string
}

// Recipients is recipient input in one of its accepted shapes:
// AddressList, Addresses or RecipientList.
type Recipients interface {
	recipients() []Recipient
}

// AddressList is a comma-separated list of addresses, e.g. "a@x.com, b@x.com".
type AddressList string

func (l AddressList) recipients() []Recipient {
	return wrap(headers.SplitAddresses(string(l)))
}

// Addresses is a list of address strings. Each entry is one recipient;
// entries are trimmed and blank ones dropped, but never split.
type Addresses []string

func (a Addresses) recipients() []Recipient {
	addrs := make([]string, 0, len(a))
	for _, entry := range a {
		if entry = strings.TrimSpace(entry); entry != "" {
			addrs = append(addrs, entry)
		}
	}
	return wrap(addrs)
}

// RecipientList is already structured recipient input and passes through unchanged.
type RecipientList []Recipient

func (l RecipientList) recipients() []Recipient {
	out := make([]Recipient, len(l))
	copy(out, l)
	return out
}

func wrap(addrs []string) []Recipient {
	out := make([]Recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, Recipient{Email: addr})
	}
	return out
}

func normalizeRecipients(in Recipients) []Recipient {
	if in == nil {
		return []Recipient{}
	}
	return in.recipients()
}

// AttachmentSource is an attachment in one of its accepted shapes:
// AttachmentFile or AttachmentData.
type AttachmentSource interface {
	load() (Attachment, error)
}

// AttachmentFile is the path of a file to attach. The MIME type is detected
// from the file content.
type AttachmentFile string

func (f AttachmentFile) load() (Attachment, error) {
	path := string(f)
	content, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, &AttachmentError{Path: path, Err: err}
	}
	return encodeAttachment(filepath.Base(path), detectContentType(path, content), content), nil
}

// AttachmentData is an attachment already held in memory.
type AttachmentData struct {
	Filename    string
	ContentType string
	Content     []byte
}

func (d AttachmentData) load() (Attachment, error) {
	contentType := d.ContentType
	if contentType == "" {
		contentType = detectContentType(d.Filename, d.Content)
	}
	return encodeAttachment(d.Filename, contentType, d.Content), nil
}

func encodeAttachment(name, contentType string, content []byte) Attachment {
	return Attachment{
		Type: contentType,
		Name: name,
		Data: "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(content),
	}
}

// detectContentType sniffs the media type from content, falling back to the
// file extension when sniffing only yields the generic binary type.
// Parameters such as charset are dropped.
func detectContentType(name string, content []byte) string {
	detected := http.DetectContentType(content)
	if mediaType, _, err := mime.ParseMediaType(detected); err == nil {
		detected = mediaType
	}
	if detected != "application/octet-stream" {
		return detected
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	return detected
}
