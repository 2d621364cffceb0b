// Package sparkpost builds SparkPost transmission requests from wp_mail style
// send calls and delivers them through the SparkPost HTTP API.
package sparkpost

import "encoding/json"

// Recipient types used in the content headers of a transmission.
const (
	RecipientTo  = "to"
	RecipientCc  = "cc"
	RecipientBcc = "bcc"
)

// Transmission is the JSON request body for POST /api/v1/transmissions.
type Transmission struct {
	Recipients []Recipient `json:"recipients"`
	Content    Content     `json:"content"`
	Options    Options     `json:"options"`

	// Important is set when a priority header asked for high importance.
	Important bool `json:"important,omitempty"`

	Description      *string        `json:"description"`
	CampaignID       *string        `json:"campaign_id"`
	Metadata         map[string]any `json:"metadata"`
	SubstitutionData map[string]any `json:"substitution_data"`
	ReturnPath       *string        `json:"return_path"`
	TemplateID       string         `json:"template_id"`
	UseDraftTemplate *bool          `json:"use_draft_template"`
}

// Recipient is a single structured address.
type Recipient struct {
	Email string `json:"email"`
	Type  string `json:"type,omitempty"`
}

// Content is the message content of a transmission.
type Content struct {
	HTML         string       `json:"html"`
	Text         *string      `json:"text"`
	Subject      string       `json:"subject"`
	From         Sender       `json:"from"`
	ReplyTo      *string      `json:"reply_to"`
	Headers      Headers      `json:"headers"`
	Attachments  []Attachment `json:"attachments"`
	InlineImages []Attachment `json:"inline_images"`
}

// Sender is the from identity of a transmission.
type Sender struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Options holds the transmission options. Nil pointers are sent as null and
// leave the account defaults in effect.
type Options struct {
	StartTime       *string `json:"start_time"`
	OpenTracking    *bool   `json:"open_tracking"`
	ClickTracking   *bool   `json:"click_tracking"`
	Transactional   *bool   `json:"transactional"`
	Sandbox         bool    `json:"sandbox"`
	SkipSuppression *bool   `json:"skip_suppression"`
	InlineCSS       *bool   `json:"inline_css"`
}

// Attachment is an attachment in API form. Data carries a data URI of the
// form "data:<mime>;base64,<content>".
type Attachment struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data string `json:"data"`
}

// Headers is the content.headers object. It serializes to a single JSON
// object holding the cc and bcc recipient lists next to the custom headers.
type Headers struct {
	Cc     []Recipient
	Bcc    []Recipient
	Custom map[string]string
}

// MarshalJSON implements json.Marshaler.
func (h Headers) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Custom)+2)
	for name, value := range h.Custom {
		out[name] = value
	}
	if len(h.Cc) > 0 {
		out[RecipientCc] = h.Cc
	}
	if len(h.Bcc) > 0 {
		out[RecipientBcc] = h.Bcc
	}
	return json.Marshal(out)
}

// Result is the decoded results object of an accepted transmission.
type Result struct {
	ID            string `json:"id"`
	TotalAccepted int    `json:"total_accepted_recipients"`
	TotalRejected int    `json:"total_rejected_recipients"`
}

// apiResponse is the envelope of a SparkPost API response.
type apiResponse struct {
	Results Result     `json:"results"`
	Errors  []APIError `json:"errors"`
}

// APIError is a single entry of the errors array returned on failure.
type APIError struct {
	Message     string `json:"message"`
	Code        string `json:"code"`
	Description string `json:"description"`
}
