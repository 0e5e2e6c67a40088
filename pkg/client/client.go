package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrAPI wraps every error message returned by the service.
var ErrAPI = errors.New("API error")

// Client provides HTTP client functionality to communicate with a siswrap service
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:10900/api/1.0",
		Timeout: 10 * time.Second,
	}
}

// New creates a new siswrap API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the service answers on its API index.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Service unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Run launches variant (qc or report) against req.Target.
func (c *Client) Run(ctx context.Context, variant string, req RunRequest) (RunResponse, error) {
	c.logger.Debug("Launching job", "variant", variant, "target", req.Target)
	data, err := json.Marshal(req)
	if err != nil {
		return RunResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	u := fmt.Sprintf("%s/%s/run", c.baseURL, url.PathEscape(variant))
	if req.Target != "" {
		u += "/" + url.PathEscape(req.Target)
	}
	var out RunResponse
	if err := c.doJSON(ctx, http.MethodPost, u, data, http.StatusAccepted, &out); err != nil {
		return RunResponse{}, err
	}
	return out, nil
}

// Status fetches one job. A terminal answer retires the job on the server,
// so a second call returns state none.
func (c *Client) Status(ctx context.Context, variant string, pid int) (Status, error) {
	u := fmt.Sprintf("%s/%s/status/%d", c.baseURL, url.PathEscape(variant), pid)
	var out Status
	if err := c.doJSON(ctx, http.MethodGet, u, nil, http.StatusOK, &out); err != nil {
		return Status{}, err
	}
	return out, nil
}

// StatusAll lists every job of variant known to the server.
func (c *Client) StatusAll(ctx context.Context, variant string) ([]StatusItem, error) {
	u := fmt.Sprintf("%s/%s/status", c.baseURL, url.PathEscape(variant))
	var out []StatusItem
	if err := c.doJSON(ctx, http.MethodGet, u, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Wait polls Status every interval until the job is terminal or unknown.
func (c *Client) Wait(ctx context.Context, variant string, pid int, interval time.Duration) (Status, error) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		st, err := c.Status(ctx, variant, pid)
		if err != nil {
			return Status{}, err
		}
		if st.State != StateStarted && st.State != StateReady {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, u string, body []byte, want int, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		return c.handleErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("%w: HTTP %s", ErrAPI, strconv.Itoa(resp.StatusCode))
	}
	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("%w: %s", ErrAPI, errorResp.Error)
}
