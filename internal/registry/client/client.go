// Package client reaches a registry node over HTTP. It implements the
// registry Reader and Writer contracts and the relay Source contract, so a
// gateway can run in a different process from the registry it fronts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/auth"
	"github.com/idregistry/idregistry/internal/middleware"
	"github.com/idregistry/idregistry/internal/registry"
	"github.com/idregistry/idregistry/internal/sentinel"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultLongPoll = 25 * time.Second
	apiPrefix       = "/api/v1/registry"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to a registry node.
type Client struct {
	baseURL  string
	doer     Doer
	longPoll time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the HTTP transport.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithLongPoll sets how long the registry may hold an events request open.
func WithLongPoll(d time.Duration) Option {
	return func(c *Client) { c.longPoll = d }
}

// New builds a client for the registry at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		longPoll: defaultLongPoll,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.doer == nil {
		c.doer = &http.Client{Timeout: defaultTimeout + c.longPoll}
	}
	return c
}

func (c *Client) Query(ctx context.Context, subject account.Address) (registry.Record, error) {
	var resp registry.RecordResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/"+subject.Hex(), nil, &resp); err != nil {
		return registry.Record{}, err
	}
	return resp.Record(), nil
}

func (c *Client) Check(ctx context.Context, subject account.Address) (bool, error) {
	var resp registry.CheckResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/"+subject.Hex()+"/check", nil, &resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

func (c *Client) TotalVerified(ctx context.Context) (int, error) {
	stats, err := c.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.TotalVerified, nil
}

// Stats fetches the registry summary.
func (c *Client) Stats(ctx context.Context) (registry.StatsResponse, error) {
	var resp registry.StatsResponse
	err := c.do(ctx, http.MethodGet, apiPrefix+"/stats", nil, &resp)
	return resp, err
}

// Submit forwards a submission. The registry identifies the caller from the
// bearer token on ctx; caller only labels errors. The idempotency key of the
// inbound request is reused when ctx carries one, so a retried gateway call
// replays the registry's first answer; otherwise a fresh key is generated.
func (c *Client) Submit(ctx context.Context, caller account.Address, identityHash string) (registry.Event, error) {
	if _, ok := auth.TokenFromContext(ctx); !ok {
		return registry.Event{}, fmt.Errorf("submit for %s: no caller token on context", caller)
	}
	if _, ok := middleware.IdempotencyKeyFromContext(ctx); !ok {
		ctx = middleware.WithIdempotencyKey(ctx, uuid.NewString())
	}
	var ev registry.Event
	err := c.do(ctx, http.MethodPost, apiPrefix+"/submit", registry.SubmitRequest{IdentityHash: identityHash}, &ev)
	return ev, err
}

// Events fetches up to limit events after the given sequence. A positive wait
// lets the registry hold the request until events exist.
func (c *Client) Events(ctx context.Context, after uint64, limit int, wait time.Duration) ([]registry.Event, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	var resp registry.EventsResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/events?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Wait long-polls until events after the given sequence exist.
func (c *Client) Wait(ctx context.Context, after uint64, limit int) ([]registry.Event, error) {
	for {
		events, err := c.Events(ctx, after, limit, c.longPoll)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			return events, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := auth.TokenFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id, ok := middleware.RequestIDFromContext(ctx); ok {
		req.Header.Set(middleware.RequestIDHeader, id)
	}
	if method != http.MethodGet {
		if key, ok := middleware.IdempotencyKeyFromContext(ctx); ok {
			req.Header.Set(middleware.IdempotencyKeyHeader, key)
		}
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", sentinel.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeError turns an error response back into the error the registry
// returned, so callers can keep using errors.Is.
func decodeError(resp *http.Response) error {
	var body middleware.ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Message = strings.TrimSpace(string(raw))
	}

	var base error
	switch body.Error {
	case middleware.CodeEmptyHash:
		base = registry.ErrEmptyHash
	case middleware.CodeAlreadyVerified:
		base = registry.ErrAlreadyVerified
	case middleware.CodeUnauthorized:
		base = registry.ErrUnauthorized
	case middleware.CodeNotVerified:
		base = registry.ErrNotVerified
	case middleware.CodeInvalidAddress:
		base = account.ErrInvalidAddress
	case middleware.CodeUnauthenticated:
		base = auth.ErrInvalidToken
	case middleware.CodeNotFound:
		base = sentinel.ErrNotFound
	default:
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			base = sentinel.ErrUnavailable
		} else {
			base = fmt.Errorf("registry returned %d", resp.StatusCode)
		}
	}
	if body.Message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, body.Message)
}
