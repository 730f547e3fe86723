// Package client talks to a running relay. It backs the outfitctl command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sdko-org/outfit-relay/internal/guard"
	"github.com/sirupsen/logrus"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	origin     string
	log        *logrus.Entry
}

type loggingTransport struct {
	base http.RoundTripper
	log  *logrus.Entry
}

// Overlay is the current overlay state as returned by the relay.
type Overlay struct {
	Outfit    json.RawMessage `json:"outfit"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// Empty reports whether no outfit is set.
func (o Overlay) Empty() bool {
	return len(o.Outfit) == 0 || string(o.Outfit) == "null"
}

// APIError is a non-2xx answer from the relay. It unwraps to the guard
// sentinel for its reason, so errors.Is(err, guard.ErrRateLimited) works.
type APIError struct {
	StatusCode int
	Reason     guard.Reason
	Message    string
	RetryAfter string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("relay returned status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Reason.Err()
}

// New builds a client for baseURL. token and origin are sent on every
// mutating request.
func New(logger *logrus.Logger, baseURL, token, origin string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &loggingTransport{
				base: http.DefaultTransport,
				log:  logger.WithField("component", "relay_transport"),
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		origin:  origin,
		log:     logger.WithField("component", "relay_client"),
	}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}

// SendOutfit posts a base64 image, optionally wrapped in a data URL.
func (c *Client) SendOutfit(ctx context.Context, image string) error {
	return c.do(ctx, http.MethodPost, "/send-outfit", map[string]string{"image": image}, nil)
}

func (c *Client) GetOverlay(ctx context.Context) (Overlay, error) {
	var out Overlay
	err := c.do(ctx, http.MethodGet, "/obs/outfit", nil, &out)
	return out, err
}

func (c *Client) SetOverlay(ctx context.Context, outfit json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/obs/outfit", map[string]json.RawMessage{"outfit": outfit}, nil)
}

func (c *Client) ClearOverlay(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/obs/outfit", nil, nil)
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "outfitctl/1.0")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if c.origin != "" {
			req.Header.Set("Origin", c.origin)
		}
		if c.token != "" {
			req.Header.Set("X-Auth-Token", c.token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
		var payload struct {
			Error  string       `json:"error"`
			Reason guard.Reason `json:"reason"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
			apiErr.Reason = payload.Reason
		}
		if apiErr.Reason == guard.ReasonNone {
			apiErr.Reason = guard.ReasonDownstreamFailure
		}
		c.log.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"reason":      apiErr.Reason,
		}).Debug("Relay rejected request")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
