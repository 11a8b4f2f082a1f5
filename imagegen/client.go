package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind is one of the three failure buckets surfaced to users.
type Kind int

const (
	KindNetwork Kind = iota
	KindUnauthorized
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "network"
	}
}

// Error is the typed failure returned by Client.Generate.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

var (
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Status: http.StatusForbidden}
	ErrRateLimited  = &Error{Kind: KindRateLimited, Status: http.StatusTooManyRequests}
)

func (e *Error) Error() string {
	msg := "imagegen: " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can use errors.Is(err, ErrRateLimited).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Message is the fixed text shown to the user.
func (e *Error) Message() string {
	switch e.Kind {
	case KindUnauthorized:
		return "Access denied. Re-enter the access code to continue."
	case KindRateLimited:
		return "The render engine is cooling down. Please wait before generating again."
	default:
		return "The render engine could not be reached. Please try again."
	}
}

// Result is a successfully rendered image.
type Result struct {
	Data        []byte
	ContentType string
	Params      Params
}

const maxImageBytes = 20 << 20

// Client calls the rendering worker.
type Client struct {
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTransport sends worker requests through rt instead of the default
// transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.http.Transport = rt
	}
}

// NewClient creates a worker client. A zero timeout defaults to 30s.
func NewClient(endpoint string, timeout time.Duration, log *zap.Logger, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate renders p. The response status is classified directly: 403 is
// ErrUnauthorized, 429 is ErrRateLimited and anything else is KindNetwork.
func (c *Client) Generate(ctx context.Context, p Params) (Result, error) {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/?"+p.Query().Encode(), nil)
	if err != nil {
		return Result{}, &Error{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("image worker unreachable", zap.Error(err))
		return Result{}, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return Result{}, &Error{Kind: KindUnauthorized, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, &Error{Kind: KindRateLimited, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{}, &Error{Kind: KindNetwork, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Result{}, &Error{Kind: KindNetwork, Status: resp.StatusCode, Err: err}
	}
	if len(data) > maxImageBytes {
		return Result{}, &Error{Kind: KindNetwork, Status: resp.StatusCode, Err: errors.New("image exceeds size limit")}
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return Result{}, &Error{Kind: KindNetwork, Status: resp.StatusCode, Err: fmt.Errorf("unexpected content type %q", ct)}
	}

	c.log.Info("image rendered",
		zap.String("model", p.Model),
		zap.Int("bytes", len(data)),
		zap.Duration("latency", time.Since(start)),
	)
	return Result{Data: data, ContentType: ct, Params: p}, nil
}
