package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Credentials identify this service to the SMS provider.
type Credentials struct {
	ProfileID string
	Password  string
	SenderID  string
}

type GatewayClient struct {
	url     string
	creds   Credentials
	client  *http.Client
	limiter *rate.Limiter
}

type Option func(*GatewayClient)

// WithRateLimit caps outgoing calls per second. Zero or negative disables it.
func WithRateLimit(perSec int) Option {
	return func(c *GatewayClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *GatewayClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

func NewGatewayClient(url string, creds Credentials, opts ...Option) *GatewayClient {
	c := &GatewayClient{
		url:   url,
		creds: creds,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d body=%q", e.StatusCode, e.Body)
}

var ErrNoNumbers = errors.New("no destination numbers")

type sendRequest struct {
	ProfileID string   `json:"profileId,omitempty"`
	Password  string   `json:"password,omitempty"`
	SenderID  string   `json:"senderId,omitempty"`
	Numbers   []string `json:"numbers"`
	Message   string   `json:"message"`
}

type sendResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

// Send submits one message to one or many numbers in a single call. The
// returned id is the provider's message id when it reports one.
func (c *GatewayClient) Send(ctx context.Context, numbers []string, message string) (string, error) {
	if len(numbers) == 0 {
		return "", ErrNoNumbers
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	reqBody, err := json.Marshal(sendRequest{
		ProfileID: c.creds.ProfileID,
		Password:  c.creds.Password,
		SenderID:  c.creds.SenderID,
		Numbers:   numbers,
		Message:   message,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	return sr.MessageID, nil
}
