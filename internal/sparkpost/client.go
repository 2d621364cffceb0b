package sparkpost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the SparkPost transmissions endpoint.
	DefaultEndpoint = "https://api.sparkpost.com/api/v1/transmissions"

	// UserAgent identifies this client to the SparkPost API.
	UserAgent = "sparkpost-relay-lite"

	// maxResponseBody caps how much of a response body is read.
	maxResponseBody = 64 << 10

	defaultTimeout = 30 * time.Second
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEndpoint overrides the transmissions endpoint URL.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// Client posts transmissions to the SparkPost API. Each call is a single
// request; there is no retry.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a Client authenticating with apiKey.
// It returns ErrNotConfigured when apiKey is blank.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotConfigured
	}

	c := &Client{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Transmit sends t and returns the decoded result of an HTTP 200 response.
// Failures are reported as *TransportError or *StatusError.
func (c *Client) Transmit(ctx context.Context, t *Transmission) (*Result, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("sparkpost: marshal transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sparkpost: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	var decoded apiResponse
	decodeErr := json.Unmarshal(data, &decoded)

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Errors:     decoded.Errors,
			Body:       string(data),
			ReadErr:    readErr,
		}
	}

	// The status code alone decides success; an unreadable or undecodable
	// body only loses the result details.
	if readErr != nil || decodeErr != nil {
		return &Result{}, nil
	}
	return &decoded.Results, nil
}
