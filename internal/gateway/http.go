package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/roach88/resendgate/internal/order"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

const defaultTimeout = 10 * time.Second

// Endpoints holds the URL templates of the remote services.
// OrderURL must contain "{order_id}" and ProductURL "{article_id}".
type Endpoints struct {
	OrderURL   string
	ProductURL string
	OrdersURL  string
	ResendURL  string
	AuthURL    string
}

// HTTPOptions configures an HTTPGateway.
type HTTPOptions struct {
	Endpoints Endpoints

	// Timeout bounds every single HTTP attempt.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryBackoff is the initial backoff interval; it doubles per retry.
	RetryBackoff time.Duration

	// RateLimit caps requests per second across all workers. Zero disables it.
	RateLimit float64
	Burst     int

	// MaxIdleConns sizes the shared connection pool.
	MaxIdleConns int

	Logger *zap.Logger
}

// HTTPGateway is the live Gateway. One instance is shared by all workers.
type HTTPGateway struct {
	opts    HTTPOptions
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// StatusError is returned when the remote service answers with a status that
// is retried but never succeeded.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.Code, e.URL)
}

type httpResult struct {
	status int
	body   []byte
}

func (r *httpResult) ok() bool {
	return r.status >= 200 && r.status < 300
}

// NewHTTPGateway builds the shared HTTP session: a cookie jar for the
// authenticated session, a pooled transport, and a request rate limiter.
func NewHTTPGateway(opts HTTPOptions) (*HTTPGateway, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.MaxIdleConns > 0 {
		transport.MaxIdleConns = opts.MaxIdleConns
		transport.MaxIdleConnsPerHost = opts.MaxIdleConns
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &HTTPGateway{
		opts:    opts,
		client:  &http.Client{Transport: transport, Jar: jar},
		limiter: rate.NewLimiter(limit, burst),
		log:     log.Named("gateway"),
	}, nil
}

// Authenticate opens the session. The service answers with session cookies
// that the jar replays on every later request.
func (g *HTTPGateway) Authenticate(ctx context.Context, user, pass string) error {
	payload, err := json.Marshal(map[string]any{
		"username":   user,
		"password":   pass,
		"rememberMe": false,
	})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	g.log.Info("authenticating", zap.String("user", user))
	res, err := g.do(ctx, http.MethodPost, g.opts.Endpoints.AuthURL, payload)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if !res.ok() {
		return fmt.Errorf("authenticate: %w: HTTP %d", ErrUnavailable, res.status)
	}

	authURL, err := url.Parse(g.opts.Endpoints.AuthURL)
	if err != nil {
		return fmt.Errorf("authenticate: parse auth url: %w", err)
	}
	if len(g.client.Jar.Cookies(authURL)) == 0 {
		return fmt.Errorf("authenticate: no session cookie returned")
	}
	g.log.Info("authentication successful")
	return nil
}

// FetchOrder implements Gateway.
func (g *HTTPGateway) FetchOrder(ctx context.Context, orderID string) (*order.Order, error) {
	u := expand(g.opts.Endpoints.OrderURL, "{order_id}", orderID)
	body, err := g.get(ctx, u)
	if err != nil {
		g.log.Debug("order query failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}
	return decodeOrder(orderID, body)
}

// FetchProductDetails implements Gateway.
func (g *HTTPGateway) FetchProductDetails(ctx context.Context, articleID string) (*order.ProductDetails, error) {
	u := expand(g.opts.Endpoints.ProductURL, "{article_id}", articleID)
	body, err := g.get(ctx, u)
	if err != nil {
		g.log.Debug("product details query failed", zap.String("article_id", articleID), zap.Error(err))
		return nil, err
	}
	return decodeProduct(articleID, body)
}

// FetchSiblingOrders implements Gateway.
func (g *HTTPGateway) FetchSiblingOrders(ctx context.Context, articleKey string) ([]order.Sibling, error) {
	u, err := withQuery(g.opts.Endpoints.OrdersURL, "dhId", articleKey)
	if err != nil {
		return nil, err
	}
	g.log.Debug("querying orders of article", zap.String("url", u))
	body, err := g.get(ctx, u)
	if err != nil {
		g.log.Debug("orders query failed", zap.String("article_key", articleKey), zap.Error(err))
		return nil, err
	}
	siblings, err := decodeSiblings(articleKey, body)
	if err != nil {
		return nil, err
	}
	g.log.Debug("orders of article", zap.String("article_key", articleKey), zap.Int("count", len(siblings)))
	return siblings, nil
}

// SubmitResend implements Gateway.
func (g *HTTPGateway) SubmitResend(ctx context.Context, orderID string) error {
	u, err := withQuery(g.opts.Endpoints.ResendURL, "orderIds", orderID)
	if err != nil {
		return &ResendError{OrderID: orderID, Detail: err.Error(), Err: err}
	}
	res, err := g.do(ctx, http.MethodPost, u, nil)
	if err != nil {
		return &ResendError{OrderID: orderID, Detail: err.Error(), Err: err}
	}
	if !res.ok() {
		return &ResendError{
			OrderID: orderID,
			Detail:  resendFailureDetail(res.status, res.body),
			Err:     ErrUnavailable,
		}
	}

	var ack struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(res.body, &ack) == nil && ack.Message != "" {
		g.log.Debug("resend acknowledged", zap.String("order_id", orderID), zap.String("message", ack.Message))
	}
	return nil
}

func (g *HTTPGateway) get(ctx context.Context, rawURL string) ([]byte, error) {
	res, err := g.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if res.status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if !res.ok() {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrUnavailable, res.status, rawURL)
	}
	return res.body, nil
}

// do sends one request with rate limiting, a per-attempt timeout and retries.
// Transport errors and 429/5xx responses are retried; the last failure is
// returned once retries are exhausted.
func (g *HTTPGateway) do(ctx context.Context, method, rawURL string, payload []byte) (*httpResult, error) {
	var result *httpResult

	op := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		res, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
		}
		if retryableStatus(res.StatusCode) {
			return &StatusError{Code: res.StatusCode, URL: rawURL}
		}
		result = &httpResult{status: res.StatusCode, body: body}
		return nil
	}

	err := backoff.RetryNotify(op, g.backoff(ctx), func(err error, wait time.Duration) {
		g.log.Debug("retrying request",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, se)
		}
		return nil, err
	}
	return result, nil
}

func (g *HTTPGateway) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if g.opts.RetryBackoff > 0 {
		eb.InitialInterval = g.opts.RetryBackoff
	}
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	eb.Reset()
	retries := g.opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func expand(tmpl, placeholder, value string) string {
	return strings.ReplaceAll(tmpl, placeholder, url.PathEscape(value))
}

func withQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
