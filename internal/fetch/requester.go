package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"benefits_fetcher/internal/logger"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

var (
	// ErrThrottled marks an HTTP 403 answer. It never escapes Do on its own:
	// callers see it only wrapped together with ErrExhaustedRetries.
	ErrThrottled        = errors.New("throttled by upstream")
	ErrExhaustedRetries = errors.New("retries exhausted")
)

const (
	DefaultMaxRetries = 50
	DefaultRetryDelay = 1000 * time.Millisecond
)

// StatusError is a non-2xx, non-403 answer. It is not retried.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// RequestSpec describes one outbound call.
type RequestSpec struct {
	Method      string
	URL         string
	Body        []byte
	Headers     map[string]string
	InsecureTLS bool
}

// JSONRequest marshals body and sets the JSON content type.
func JSONRequest(method, url string, body any) (RequestSpec, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("marshal request body: %w", err)
	}
	return RequestSpec{
		Method:  method,
		URL:     url,
		Body:    data,
		Headers: map[string]string{"Content-Type": "application/json"},
	}, nil
}

// RetryState tracks one logical request across throttled attempts.
type RetryState struct {
	Attempt   int
	NextDelay time.Duration
}

type Requester struct {
	client         *http.Client
	insecureClient *http.Client
	maxRetries     int
	retryDelay     time.Duration
	userAgent      string
	limiter        *rate.Limiter
	sleep          func(context.Context, time.Duration) error
	log            *logger.Logger
}

type Option func(*Requester)

func WithMaxRetries(n int) Option {
	return func(r *Requester) { r.maxRetries = n }
}

func WithRetryDelay(d time.Duration) Option {
	return func(r *Requester) { r.retryDelay = d }
}

func WithUserAgent(ua string) Option {
	return func(r *Requester) { r.userAgent = ua }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Requester) {
		r.client.Timeout = d
		r.insecureClient.Timeout = d
	}
}

// WithMinInterval spaces consecutive attempts at least d apart.
func WithMinInterval(d time.Duration) Option {
	return func(r *Requester) {
		if d > 0 {
			r.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Requester) { r.sleep = sleep }
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Requester) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRequester(opts ...Option) *Requester {
	r := &Requester{
		client: &http.Client{Timeout: 30 * time.Second},
		insecureClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		sleep:      sleepContext,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do performs spec, retrying with a fixed delay while upstream answers 403.
// After maxRetries retries the throttling error is returned wrapped in
// ErrExhaustedRetries. Every other failure is returned immediately.
func (r *Requester) Do(ctx context.Context, spec RequestSpec) ([]byte, error) {
	var state RetryState

	for {
		body, err := r.attempt(ctx, spec)
		if err == nil || !errors.Is(err, ErrThrottled) {
			return body, err
		}

		if state.Attempt >= r.maxRetries {
			return nil, fmt.Errorf("%w after %d retries: %w", ErrExhaustedRetries, state.Attempt, err)
		}

		state.Attempt++
		state.NextDelay = r.retryDelay
		r.log.Warn("rate limited, retrying",
			"url", spec.URL, "attempt", state.Attempt, "delay_ms", state.NextDelay.Milliseconds())

		if err := r.sleep(ctx, state.NextDelay); err != nil {
			return nil, err
		}
	}
}

func (r *Requester) attempt(ctx context.Context, spec RequestSpec) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader = http.NoBody
	if spec.Body != nil {
		reqBody = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.URL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	client := r.client
	if spec.InsecureTLS {
		client = r.insecureClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrThrottled, spec.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: spec.URL}
	}

	contentType := resp.Header.Get("Content-Type")

	// The XML parser reads the encoding from the document declaration.
	if strings.Contains(contentType, "xml") {
		return io.ReadAll(resp.Body)
	}

	// Only a declared charset is trusted: sniffing a JSON prefix that happens
	// to be ASCII would fall back to windows-1252.
	label := declaredCharset(contentType)
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return io.ReadAll(resp.Body)
	}

	utf8Reader, err := charset.NewReaderLabel(label, resp.Body)
	if err != nil {
		r.log.Warn("unknown charset, reading raw", "url", spec.URL, "charset", label)
		return io.ReadAll(resp.Body)
	}
	return io.ReadAll(utf8Reader)
}

func declaredCharset(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
