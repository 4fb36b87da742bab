// Package evolution provides a client for sending WhatsApp messages through
// an Evolution API instance.
//
// The client makes exactly one network attempt per call and classifies every
// failure into a small set of kinds; retrying is the caller's decision.
package evolution

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Default request timeouts, matching the provider's recommended limits.
const (
	DefaultSendTimeout  = 10 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Failure kinds reported by the client.
const (
	KindTimeout    = "timeout"
	KindConnection = "connection_error"
	KindHTTP       = "http_error"
	KindUnexpected = "unexpected"
)

// Error is a classified gateway failure. Its Error string is the kind
// itself ("timeout", "connection_error", "http_error(503)", ...) so callers
// can surface it verbatim in batch outcomes.
type Error struct {
	Kind   string
	Status int // HTTP status, set for KindHTTP only
	cause  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("http_error(%d)", e.Status)
	case KindUnexpected:
		return fmt.Sprintf("unexpected(%v)", e.cause)
	default:
		return e.Kind
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Client sends text messages via the Evolution API.
type Client struct {
	baseURL     string
	apiKey      string
	instance    string
	sendClient  *http.Client
	probeClient *http.Client
}

// NewClient creates a Client for the given Evolution API base URL, key and
// instance name. Non-positive timeouts fall back to the defaults.
func NewClient(baseURL, apiKey, instance string, sendTimeout, probeTimeout time.Duration) *Client {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		instance:    instance,
		sendClient:  &http.Client{Timeout: sendTimeout},
		probeClient: &http.Client{Timeout: probeTimeout},
	}
}

// CleanNumber strips spaces, plus signs and dashes from a phone number.
// Group identifiers are provider-assigned and pass through unchanged by
// the same rule.
func CleanNumber(number string) string {
	r := strings.NewReplacer(" ", "", "+", "", "-", "")
	return r.Replace(number)
}

// sendTextRequest is the payload for the sendText endpoint.
type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// sendTextResponse captures the provider message key from the response
// body. The client does not depend on any other part of the payload.
type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// SendText sends one message to a phone number or group id and returns the
// provider message id when the response carries one. Exactly one attempt is
// made; any failure comes back as a classified *Error.
func (c *Client) SendText(destination, text string) (string, error) {
	reqBody := sendTextRequest{
		Number: CleanNumber(destination),
		Text:   text,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Kind: KindUnexpected, cause: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, c.instance)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindUnexpected, cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.sendClient.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{Kind: KindHTTP, Status: resp.StatusCode}
	}

	// Best effort: the provider payload only matters for the message id.
	var parsed sendTextResponse
	_ = json.NewDecoder(resp.Body).Decode(&parsed)

	return parsed.Key.ID, nil
}

// Probe checks gateway reachability by fetching the instance list. It is a
// status check only and must never count as a dispatch attempt.
func (c *Client) Probe() error {
	url := c.baseURL + "/instance/fetchInstances"

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return &Error{Kind: KindUnexpected, cause: err}
	}
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: KindHTTP, Status: resp.StatusCode}
	}

	return nil
}

func classifyTransport(err error) *Error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTimeout, cause: err}
	}

	return &Error{Kind: KindConnection, cause: err}
}
