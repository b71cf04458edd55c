// Package provider contains the metadata adapters and the HTTP plumbing
// they share.
//
// The Provider interface is defined in internal/metadata (metadata.Provider),
// following the Go convention of defining interfaces where they are consumed.
// Each sub-package here implements that interface for a specific service.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"trackmeta/internal/cache"
	"trackmeta/internal/logger"
	"trackmeta/internal/metadata"
	"trackmeta/internal/ratelimit"
)

// UserAgent identifies this application to catalog APIs.
const UserAgent = "trackmeta/1.0 (+https://github.com/trackmeta/trackmeta)"

const (
	maxBodyBytes   = 4 << 20
	excerptLength  = 200
	defaultTimeout = 10 * time.Second
)

var yearPattern = regexp.MustCompile(`(19|20)\d{2}`)

// Options holds what every adapter needs. Zero values are replaced with
// defaults by Fill.
type Options struct {
	HTTPClient *http.Client
	Cache      cache.Cache
	Logger     *logger.Logger
	BaseURL    string
	Timeout    time.Duration
	// Limits spaces requests per provider. Nil means unthrottled.
	Limits *ratelimit.Registry
}

// Fill returns a copy of o with defaults for unset fields. The HTTP client
// is given timeout unless one was supplied.
func (o Options) Fill(baseURL string, timeout time.Duration) Options {
	if o.Timeout <= 0 {
		o.Timeout = timeout
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Cache == nil {
		o.Cache = cache.NewMemory(cache.DefaultTTL, 0)
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

// Throttle waits for the provider's rate limit slot, if it has one.
func (o Options) Throttle(ctx context.Context, name string) error {
	if o.Limits == nil {
		return nil
	}
	if err := o.Limits.Throttle(ctx, name); err != nil {
		return metadata.NetworkError(name, err)
	}
	return nil
}

// Cached serves q from c when present and otherwise calls fetch, storing
// a match or a clean NotFound. Failures are returned but never stored.
func Cached(ctx context.Context, c cache.Cache, name string, q metadata.Query,
	fetch func(ctx context.Context) (*metadata.Candidate, error)) (*metadata.Candidate, error) {

	key := cache.Key(name, q.Artist, q.Title)
	if hit, ok := c.Get(ctx, key); ok {
		return hit, nil
	}

	result, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, result)
	return result, nil
}

// Request describes one outbound GET.
type Request struct {
	URL    string
	Header http.Header
}

// Response is a fully read response body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs req and reads the body. Transport failures become
// NetworkError; the status code is not interpreted.
func Get(ctx context.Context, client *http.Client, name string, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", name, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", UserAgent)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, metadata.NetworkError(name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, metadata.NetworkError(name, fmt.Errorf("read body: %w", err))
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// CheckStatus maps a non-2xx status to the error taxonomy.
func CheckStatus(name string, resp *Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return metadata.AuthError(name, resp.StatusCode, errors.New(Excerpt(resp.Body)))
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return &metadata.ProviderError{
			Provider:   name,
			Kind:       metadata.ErrRateLimited,
			StatusCode: resp.StatusCode,
			Err:        retryAfter(resp.Header),
		}
	case resp.StatusCode >= 500:
		return &metadata.ProviderError{
			Provider:   name,
			Kind:       metadata.ErrNetwork,
			StatusCode: resp.StatusCode,
			Err:        errors.New(Excerpt(resp.Body)),
		}
	default:
		return metadata.MalformedError(name, resp.StatusCode, errors.New(Excerpt(resp.Body)))
	}
}

func retryAfter(h http.Header) error {
	ra := h.Get("Retry-After")
	if ra == "" {
		return nil
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		return fmt.Errorf("retry after %ds", secs)
	}
	return fmt.Errorf("retry after %s", ra)
}

// Decode unmarshals a JSON body, reporting failures as MalformedError.
func Decode(name string, resp *Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return metadata.MalformedError(name, resp.StatusCode,
			fmt.Errorf("decode: %w (body: %s)", err, Excerpt(resp.Body)))
	}
	return nil
}

// Excerpt trims a body for log and error messages.
func Excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > excerptLength {
		return s[:excerptLength] + "..."
	}
	return s
}

// ParseYear reads a leading four-digit year from a date such as
// "1975-10-31". It returns 0 when there is none.
func ParseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y <= 0 {
		return 0
	}
	return y
}

// FindYear returns the first 19xx or 20xx year anywhere in text.
func FindYear(text string) int {
	m := yearPattern.FindString(text)
	if m == "" {
		return 0
	}
	y, _ := strconv.Atoi(m)
	return y
}

// TitleCase formats a tag or genre such as "classic rock" for display.
func TitleCase(s string) string {
	// A Caser keeps state between calls and cannot be shared.
	return cases.Title(language.English).String(strings.TrimSpace(s))
}
