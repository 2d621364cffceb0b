package sparkpost

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured indicates that no SparkPost API key was supplied.
	ErrNotConfigured = errors.New("sparkpost: api key not configured")

	// ErrNoRecipients indicates that a message resolved to an empty recipient list.
	ErrNoRecipients = errors.New("sparkpost: message must have at least one recipient")
)

// AttachmentError reports an attachment that could not be read.
type AttachmentError struct {
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("sparkpost: read attachment %s: %v", e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

// TransportError reports a request that did not produce an HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sparkpost: request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError reports a response with a status code other than 200.
// Errors holds whatever the API returned in its errors array. ReadErr is set
// when the response body could not be read in full, in which case Body is
// truncated.
type StatusError struct {
	StatusCode int
	Errors     []APIError
	Body       string
	ReadErr    error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("sparkpost: unexpected status %d", e.StatusCode)
	if len(e.Errors) > 0 {
		msgs := make([]string, 0, len(e.Errors))
		for _, apiErr := range e.Errors {
			m := apiErr.Message
			if apiErr.Description != "" {
				m += ": " + apiErr.Description
			}
			msgs = append(msgs, m)
		}
		msg += ": " + strings.Join(msgs, "; ")
	}
	if e.ReadErr != nil {
		msg += fmt.Sprintf(" (read body: %v)", e.ReadErr)
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.ReadErr
}

// Permanent reports whether resending the same request cannot succeed.
// Client errors are permanent except for rate limiting.
func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429
}
