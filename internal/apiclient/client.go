// Package apiclient builds and sends requests against the resolved branch
// origin. Screens never assemble URLs themselves.
package apiclient

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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-ID"
	maxErrorBody    = 4 << 10
)

var ErrUnreachable = errors.New("remote unreachable")

type OriginSource interface {
	CurrentOrigin(ctx context.Context) string
}

type TokenSource interface {
	Token(ctx context.Context) string
}

type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	Logger     *zap.Logger
}

type Client struct {
	http      *http.Client
	origins   OriginSource
	tokens    TokenSource
	userAgent string
	log       *zap.Logger
}

func New(origins OriginSource, tokens TokenSource, opts Options) *Client {
	c := &Client{
		http:      opts.HTTPClient,
		origins:   origins,
		tokens:    tokens,
		userAgent: opts.UserAgent,
		log:       opts.Logger,
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.userAgent == "" {
		c.userAgent = "erp-session-core"
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// NewRequest resolves origin and token now; the request keeps them even if
// the branch or session changes before it is sent.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var token string
	if c.tokens != nil {
		token = c.tokens.Token(ctx)
	}
	return c.NewRequestWithToken(ctx, method, path, token, body)
}

func (c *Client) NewRequestWithToken(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	origin := c.origins.CurrentOrigin(ctx)
	target := strings.TrimRight(origin, "/") + "/" + strings.TrimLeft(path, "/")

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// Do sends req and decodes a 2xx JSON body into out (which may be nil).
// Transport failures wrap ErrUnreachable; other statuses yield *StatusError.
func (c *Client) Do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.String("request_id", req.Header.Get(RequestIDHeader)),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	c.log.Debug("request completed",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.String("request_id", req.Header.Get(RequestIDHeader)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(data, &body) == nil {
		msg = body.Error
		if msg == "" {
			msg = body.Message
		}
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
