// Package token caches OAuth client-credentials access tokens and refreshes
// them with at most one exchange in flight per client.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"trackmeta/internal/logger"
)

const (
	// RefreshMargin is how long before expiry a token is treated as stale.
	RefreshMargin = 60 * time.Second

	exchangeTimeout = 10 * time.Second
	defaultTTL      = time.Hour
)

// ErrNoCredentials is returned when the client ID or secret is blank.
var ErrNoCredentials = errors.New("client credentials not configured")

// ExchangeError reports a failed token exchange. StatusCode is zero when
// the token endpoint was never reached.
type ExchangeError struct {
	StatusCode int
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Credentials returns the current client ID and secret. It is called on
// every Token request so rotated credentials take effect immediately.
type Credentials func(ctx context.Context) (clientID, clientSecret string)

type cached struct {
	clientID  string
	secret    string
	token     string
	expiresAt time.Time
}

// Manager hands out a valid bearer token for one OAuth token endpoint.
type Manager struct {
	tokenURL    string
	credentials Credentials
	httpClient  *http.Client
	logger      *logger.Logger
	now         func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	current *cached
}

// NewManager creates a Manager for the client-credentials endpoint tokenURL.
func NewManager(tokenURL string, creds Credentials, httpClient *http.Client, log *logger.Logger) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: exchangeTimeout}
	}
	return &Manager{
		tokenURL:    tokenURL,
		credentials: creds,
		httpClient:  httpClient,
		logger:      log.Named("token"),
		now:         time.Now,
	}
}

// Valid reports whether a cached token exists that does not expire within
// RefreshMargin.
func (m *Manager) Valid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usable(m.current)
}

func (m *Manager) usable(c *cached) bool {
	return c != nil && c.token != "" && m.now().Before(c.expiresAt)
}

// Token returns a valid access token, exchanging credentials when the cached
// one is missing, stale or belongs to different credentials. Concurrent
// callers share a single exchange.
func (m *Manager) Token(ctx context.Context) (string, error) {
	id, secret := m.credentials(ctx)
	if id == "" || secret == "" {
		return "", ErrNoCredentials
	}

	if tok, ok := m.lookup(id, secret); ok {
		return tok, nil
	}

	ch := m.group.DoChan(id, func() (any, error) {
		// Another caller may have finished an exchange while we were queued.
		if tok, ok := m.lookup(id, secret); ok {
			return tok, nil
		}
		return m.exchange(id, secret)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached token if it is still rejected, so the next
// Token call exchanges again. Adapters call it with the token the API
// answered 401 to; a token another caller has already replaced is left
// alone.
func (m *Manager) Invalidate(rejected string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.token == rejected {
		m.current = nil
	}
}

func (m *Manager) lookup(id, secret string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.current
	if !m.usable(c) || c.clientID != id || c.secret != secret {
		return "", false
	}
	return c.token, true
}

// exchange runs detached from any single caller's context so one caller
// giving up does not fail the others waiting on the same flight.
func (m *Manager) exchange(id, secret string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	cfg := clientcredentials.Config{
		ClientID:     id,
		ClientSecret: secret,
		TokenURL:     m.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	start := m.now()
	tok, err := cfg.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", &ExchangeError{StatusCode: re.Response.StatusCode, Err: err}
		}
		return "", &ExchangeError{Err: err}
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = start.Add(defaultTTL)
	}
	c := &cached{
		clientID:  id,
		secret:    secret,
		token:     tok.AccessToken,
		expiresAt: expiry.Add(-RefreshMargin),
	}

	m.mu.Lock()
	m.current = c
	m.mu.Unlock()

	m.logger.Debug("Access token refreshed", "expires_at", c.expiresAt.Format(time.RFC3339))
	return c.token, nil
}
