// Package remote talks to the replica: one HTTP endpoint that stores a whole
// snapshot envelope per bearer token.
package remote

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/shopledger/shopledger/internal/dataset"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// Ack is the replica's reply to a successful push. A reply carrying
// "ok": false is returned as a *RejectedError instead.
type Ack struct {
	OK        bool  `json:"ok"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Replica is the contract the coordinator depends on.
type Replica interface {
	Fetch(ctx context.Context) (dataset.Envelope, error)
	Push(ctx context.Context, env dataset.Envelope) (Ack, error)
}

// Client implements Replica over HTTP.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// Option customises Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client for endpoint using token as both credential and
// partition key.
func NewClient(endpoint, token string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{},
		timeout:  defaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Fingerprint identifies the token in logs.
func (c *Client) Fingerprint() string { return Fingerprint(c.token) }

// Fetch downloads the snapshot. A replica that never received a push answers
// with an envelope whose Timestamp is zero, or with ErrNotFound.
func (c *Client) Fetch(ctx context.Context) (dataset.Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return dataset.Envelope{}, fmt.Errorf("remote: build request: %w: %w", ErrTransport, err)
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return dataset.Envelope{}, fmt.Errorf("remote: fetch: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.MethodGet); err != nil {
		return dataset.Envelope{}, err
	}
	if err := checkJSON(resp); err != nil {
		return dataset.Envelope{}, err
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return dataset.Envelope{}, err
	}
	c.logger.Debug("remote: fetched snapshot",
		slog.String("token", c.Fingerprint()),
		slog.Int64("timestamp", env.Timestamp),
		slog.Int("inventory", len(env.Inventory)),
		slog.Int("estimates", len(env.Estimates)))
	return env, nil
}

// Push replaces the remote snapshot with env.
func (c *Client) Push(ctx context.Context, env dataset.Envelope) (Ack, error) {
	body, err := json.Marshal(env.Normalize())
	if err != nil {
		return Ack{}, fmt.Errorf("remote: encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Ack{}, fmt.Errorf("remote: build request: %w: %w", ErrTransport, err)
	}
	c.decorate(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("remote: push: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.MethodPut); err != nil {
		return Ack{}, err
	}
	ack := Ack{OK: true, Timestamp: env.Timestamp}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(bytes.TrimSpace(raw)) > 0 {
		var decoded struct {
			OK        *bool  `json:"ok"`
			Timestamp *int64 `json:"timestamp"`
			Error     string `json:"error"`
			Message   string `json:"message"`
		}
		if json.Unmarshal(raw, &decoded) == nil {
			if decoded.OK != nil && !*decoded.OK {
				code := decoded.Error
				if code == "" {
					code = decoded.Message
				}
				return Ack{}, &RejectedError{Status: resp.StatusCode, Code: code, Body: truncate(raw)}
			}
			if decoded.Timestamp != nil {
				ack.Timestamp = *decoded.Timestamp
			}
		}
	}
	c.logger.Debug("remote: pushed snapshot", slog.String("token", c.Fingerprint()), slog.Int64("timestamp", env.Timestamp))
	return ack, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Expires", "0")
}

// checkStatus maps a non-2xx reply to the error taxonomy. A 404 only means
// "no snapshot yet" on a fetch; on a push it is a refusal like any other.
func checkStatus(resp *http.Response, method string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return ErrNotFound
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	rejected := &RejectedError{Status: resp.StatusCode, Body: truncate(raw)}
	var fields struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &fields) == nil {
		rejected.Code = fields.Error
		if rejected.Code == "" {
			rejected.Code = fields.Message
		}
	}
	return rejected
}

func truncate(raw []byte) string {
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return strings.TrimSpace(string(raw))
}

func checkJSON(resp *http.Response) error {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("%w: missing or invalid content type %q", ErrProtocol, resp.Header.Get("Content-Type"))
	}
	if mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json") {
		return fmt.Errorf("%w: unexpected content type %q", ErrProtocol, mediaType)
	}
	return nil
}

// decodeEnvelope accepts an object holding any of the envelope keys; missing
// keys take their zero value. Anything else is not an envelope.
func decodeEnvelope(r io.Reader) (dataset.Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return dataset.Envelope{}, fmt.Errorf("%w: decode body: %w", ErrProtocol, err)
	}
	if raw == nil {
		return dataset.Envelope{}.Normalize(), nil
	}
	_, hasInv := raw["inventory"]
	_, hasEst := raw["estimates"]
	_, hasTS := raw["timestamp"]
	if len(raw) > 0 && !hasInv && !hasEst && !hasTS {
		return dataset.Envelope{}, fmt.Errorf("%w: body is not a snapshot envelope", ErrProtocol)
	}

	var env dataset.Envelope
	if err := decodeField(raw, "inventory", &env.Inventory); err != nil {
		return dataset.Envelope{}, err
	}
	if err := decodeField(raw, "estimates", &env.Estimates); err != nil {
		return dataset.Envelope{}, err
	}
	if err := decodeField(raw, "timestamp", &env.Timestamp); err != nil {
		return dataset.Envelope{}, err
	}
	if env.Timestamp < 0 {
		return dataset.Envelope{}, fmt.Errorf("%w: negative timestamp %d", ErrProtocol, env.Timestamp)
	}
	return env.Normalize(), nil
}

func decodeField(raw map[string]json.RawMessage, key string, target any) error {
	value, ok := raw[key]
	if !ok || string(value) == "null" {
		return nil
	}
	if err := json.Unmarshal(value, target); err != nil {
		return fmt.Errorf("%w: field %s: %w", ErrProtocol, key, err)
	}
	return nil
}

// Fingerprint returns a short, stable, non-reversible tag for token.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
