// Package backend is the HTTP client for the EcoSmart backend: session
// polling, logout, registration and the opaque data endpoints the kiosk
// screens display.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/engine"
)

const DefaultBaseURL = "http://localhost:5001"

var ErrTransientFetch = errors.New("transient session fetch failure")
var ErrBackendLogout = errors.New("backend logout failed")
var ErrBackend = errors.New("backend request failed")

// StatusError carries a non-2xx response from the backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded %d", e.Code)
	}
	return fmt.Sprintf("backend responded %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every call except CheckSession, which the poll loop
// never times out.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("backend")
	return c
}

// CheckSession polls GET /api/check-session. Every failure wraps
// ErrTransientFetch.
func (c *Client) CheckSession(ctx context.Context) (engine.Snapshot, error) {
	var snap engine.Snapshot
	if err := c.getJSON(ctx, "/api/check-session", &snap); err != nil {
		return engine.Snapshot{}, fmt.Errorf("%w: %w", ErrTransientFetch, err)
	}
	return snap, nil
}

type LogoutResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Logout clears the backend session for the card. Failures wrap
// ErrBackendLogout; callers proceed with local navigation regardless.
func (c *Client) Logout(ctx context.Context, rfidUID string, role engine.Role) (LogoutResult, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	body := struct {
		RFIDUID string      `json:"rfid_uid"`
		Role    engine.Role `json:"role"`
	}{RFIDUID: NormalizeUID(rfidUID), Role: role}

	var res LogoutResult
	if err := c.postJSON(ctx, "/api/logout", body, &res); err != nil {
		return LogoutResult{}, fmt.Errorf("%w: %w", ErrBackendLogout, err)
	}
	if res.Status != "" && res.Status != "success" {
		return res, fmt.Errorf("%w: status %q", ErrBackendLogout, res.Status)
	}
	return res, nil
}

func (c *Client) DashboardData(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/dashboard-data")
}

func (c *Client) BinStatus(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/bin-status")
}

func (c *Client) Leaderboard(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/mvp-leaderboard")
}

func (c *Client) Chat(ctx context.Context, question string) (json.RawMessage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", ErrBackend)
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var out json.RawMessage
	err := c.postJSON(ctx, "/api/chat-openai", map[string]string{"question": question}, &out)
	return out, err
}

func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) getRaw(ctx context.Context, path string) (json.RawMessage, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var out json.RawMessage
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.log.Debug("backend call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// errorMessage pulls the "message" field out of an error body, if any.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
