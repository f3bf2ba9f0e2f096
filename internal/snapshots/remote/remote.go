// Package remote talks to a numtrack server over its JSON API. It serves as
// the CLI's remote ledger.Persister and as the client for the OTP login flow.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
)

var (
	ErrUnauthorized = errors.New("not logged in or session expired")
	// ErrNotPersisted means the server accepted a snapshot but could not
	// store it.
	ErrNotPersisted = errors.New("server could not persist the ledger")
)

// maxRetryWait caps how long a Retry-After header can stall a request.
const maxRetryWait = 30 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client is safe for concurrent use; requests share one rate limiter.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	retries int
}

var _ ledger.Persister = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with data requests.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default pooled client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit paces outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithRetries sets how many times a 429 or 503 answer is retried after the
// server's Retry-After delay. Zero disables retries.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    newHTTPClient(),
		limiter: rate.NewLimiter(rate.Limit(10), 5),
		retries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 60 * time.Second,
	}
}

// DataResponse is the body of GET /api/data.
type DataResponse struct {
	Numbers   map[string]float64   `json:"numbers"`
	History   map[string][]float64 `json:"history"`
	Threshold float64              `json:"threshold"`
}

// SnapshotRequest is the body of PUT /api/data: the whole ledger at once.
type SnapshotRequest struct {
	NumberValues    map[string][]float64 `json:"numberValues"`
	GlobalThreshold float64              `json:"globalThreshold"`
}

// Load fetches the server state. Labels with a history use it; labels with
// only a total come back as a single entry.
func (c *Client) Load(ctx context.Context) (ledger.Snapshot, error) {
	var resp DataResponse
	if err := c.do(ctx, http.MethodGet, "/api/data", nil, &resp, true); err != nil {
		return ledger.Snapshot{}, err
	}
	return SnapshotFromResponse(resp)
}

// SnapshotFromResponse converts a GET /api/data body into a snapshot.
func SnapshotFromResponse(resp DataResponse) (ledger.Snapshot, error) {
	snap := ledger.EmptySnapshot()
	snap.Threshold = resp.Threshold
	for key, total := range resp.Numbers {
		label, err := normalizeKey(key)
		if err != nil {
			return ledger.Snapshot{}, err
		}
		if hist, ok := resp.History[key]; ok {
			snap.Entries[label] = append([]float64(nil), hist...)
		} else {
			snap.Entries[label] = []float64{total}
		}
	}
	for key, hist := range resp.History {
		label, err := normalizeKey(key)
		if err != nil {
			return ledger.Snapshot{}, err
		}
		if _, ok := snap.Entries[label]; !ok {
			snap.Entries[label] = append([]float64(nil), hist...)
		}
	}
	if err := snap.Validate(); err != nil {
		return ledger.Snapshot{}, err
	}
	return snap.Normalized(), nil
}

// normalizeKey left-pads keys like "5" the way the server's clients send them.
func normalizeKey(key string) (core.Label, error) {
	if len(key) == 1 {
		key = "0" + key
	}
	l := core.Label(key)
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidLabel, key)
	}
	return l, nil
}

// Save replaces the server state with snap in a single request, so a
// failed sync leaves the server's previous state untouched.
func (c *Client) Save(ctx context.Context, snap ledger.Snapshot) error {
	snap = snap.Normalized()
	req := SnapshotRequest{
		NumberValues:    make(map[string][]float64, len(snap.Entries)),
		GlobalThreshold: snap.Threshold,
	}
	for label, vals := range snap.Entries {
		req.NumberValues[string(label)] = vals
	}

	var resp struct {
		Synced bool `json:"synced"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/data", req, &resp, true); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if !resp.Synced {
		return ErrNotPersisted
	}
	return nil
}

// Delete clears every entry on the server.
func (c *Client) Delete(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/api/data/edit", map[string]bool{"clearAll": true}, nil, true)
}

// LoginResponse is returned by the login and resend endpoints.
type LoginResponse struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// VerifyResponse carries the issued token.
type VerifyResponse struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// Login starts the OTP flow for email.
func (c *Client) Login(ctx context.Context, email string) (LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": email}, &out, false)
	return out, err
}

// VerifyOTP exchanges a one-time code for a token.
func (c *Client) VerifyOTP(ctx context.Context, userID, otp string) (VerifyResponse, error) {
	var out VerifyResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/verify-otp", map[string]string{"userId": userID, "otp": otp}, &out, false)
	return out, err
}

// ResendOTP asks the server to mail a fresh code.
func (c *Client) ResendOTP(ctx context.Context, userID string) (LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/resend-otp", map[string]string{"userId": userID}, &out, false)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, auth bool) error {
	if auth && c.token == "" {
		return ErrUnauthorized
	}

	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		wait, err := c.send(ctx, method, path, data, out, auth)
		if err == nil || wait < 0 || attempt >= c.retries {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// send performs one request. A non-negative wait means the failure is worth
// retrying after that delay.
func (c *Client) send(ctx context.Context, method, path string, data []byte, out any, auth bool) (time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return -1, fmt.Errorf("rate limit: %w", err)
	}

	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return -1, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return -1, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && auth {
		return -1, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		wait := time.Duration(-1)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			wait = retryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return wait, readAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return -1, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return -1, fmt.Errorf("decode response: %w", err)
	}
	return -1, nil
}

func readAPIError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			msg = payload.Error
		} else if payload.Message != "" {
			msg = payload.Message
		}
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// retryAfter reads a Retry-After value in seconds or as an HTTP date.
// Missing or unparseable values wait one second.
func retryAfter(v string, now time.Time) time.Duration {
	wait := time.Second
	if v = strings.TrimSpace(v); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			wait = max(at.Sub(now), 0)
		}
	}
	return min(wait, maxRetryWait)
}
