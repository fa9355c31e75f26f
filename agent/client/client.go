// Package client talks to the control-plane fleet API. Reconnect scripts on
// the modem hosts use it through the dcom-agent command.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

const (
	httpTimeout = 10 * time.Second
	maxRetries  = 3
	retryDelay  = 5 * time.Second
)

// Client wraps HTTP calls to the control plane with retries
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryDelay sets the pause between attempts
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// New creates a client for the control plane at baseURL
func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: httpTimeout},
		retryDelay: retryDelay,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer from the control plane
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// RotateResult is the control plane's answer to a rotation
type RotateResult struct {
	Message       string              `json:"message"`
	OldAddress    string              `json:"old_ip"`
	NewAddress    string              `json:"new_ip"`
	AffectedUsers []string            `json:"affected_users"`
	Notification  models.Notification `json:"notification"`
}

// Rotate reports that deviceID now has newAddress
func (c *Client) Rotate(ctx context.Context, deviceID, newAddress string) (*RotateResult, error) {
	var result RotateResult
	err := c.call(ctx, http.MethodPost, "/api/dcom/rotate-ip/"+deviceID, map[string]string{"new_ip": newAddress}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Refresh asks the control plane to rediscover its devices
func (c *Client) Refresh(ctx context.Context) (int, error) {
	var result struct {
		Devices int `json:"devices"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/dcom/refresh", nil, &result); err != nil {
		return 0, err
	}
	return result.Devices, nil
}

// Assign binds user to deviceID
func (c *Client) Assign(ctx context.Context, user, deviceID string) error {
	return c.call(ctx, http.MethodPost, "/api/dcom/assign", map[string]string{"username": user, "dcom_id": deviceID}, nil)
}

// Unassign removes the binding of user
func (c *Client) Unassign(ctx context.Context, user string) error {
	return c.call(ctx, http.MethodPost, "/api/dcom/unassign", map[string]string{"username": user}, nil)
}

// Route returns the uplink serving user
func (c *Client) Route(ctx context.Context, user string) (models.RoutingInfo, error) {
	var result struct {
		Route models.RoutingInfo `json:"route"`
	}
	err := c.call(ctx, http.MethodGet, "/api/dcom/route/"+user, nil, &result)
	return result.Route, err
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do retries transport failures and 5xx answers up to maxRetries times
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 400:
			lastErr = decodeError(resp)
			if resp.StatusCode < 500 {
				return nil, lastErr
			}
		default:
			return resp, nil
		}

		if i < maxRetries-1 {
			c.logger.Warn("Control plane request failed, retrying",
				"method", method,
				"path", path,
				"attempt", i+1,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, lastErr)
}

func decodeError(resp *http.Response) error {
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
