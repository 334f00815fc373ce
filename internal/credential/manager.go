package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	jwtBearerGrant   = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	MessagingScope   = "https://www.googleapis.com/auth/firebase.messaging"
	assertionTTL     = time.Hour
	defaultTokenTTL  = time.Hour
	maxErrorBodySize = 4 << 10
)

// ErrCredential marks any failure to obtain a gateway access token.
var ErrCredential = errors.New("credential unavailable")

// Credential is a short-lived bearer token for the push gateway.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Options tunes the token exchange.
type Options struct {
	// TokenURL overrides the service account's token_uri.
	TokenURL     string
	Scope        string
	SafetyMargin time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
	Now          func() time.Time
}

// Observer is notified after every token exchange attempt.
type Observer interface {
	IncCredentialExchange(err error)
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Manager issues gateway credentials and caches the current one until it is
// within SafetyMargin of expiry. It is safe for concurrent use; concurrent
// cache misses share a single exchange.
type Manager struct {
	account  *ServiceAccount
	tokenURL string
	scope    string
	margin   time.Duration
	timeout  time.Duration
	http     *http.Client
	now      func() time.Time
	observer Observer
	logger   *slog.Logger

	mu     sync.RWMutex
	cached *Credential
	flight singleflight.Group
}

// NewManager builds a Manager for the given service account. observer may be nil.
func NewManager(account *ServiceAccount, opts Options, observer Observer, logger *slog.Logger) *Manager {
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = account.TokenURI
	}
	if opts.Scope == "" {
		opts.Scope = MessagingScope
	}
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		account:  account,
		tokenURL: tokenURL,
		scope:    opts.Scope,
		margin:   opts.SafetyMargin,
		timeout:  opts.Timeout,
		http:     opts.HTTPClient,
		now:      opts.Now,
		observer: observer,
		logger:   logger,
	}
}

// ProjectID returns the project the service account belongs to.
func (m *Manager) ProjectID() string {
	return m.account.ProjectID
}

// GetCredential returns the cached credential or exchanges a fresh one.
func (m *Manager) GetCredential(ctx context.Context) (Credential, error) {
	if cred, ok := m.fresh(); ok {
		return cred, nil
	}
	v, err, _ := m.flight.Do("token", func() (any, error) {
		if cred, ok := m.fresh(); ok {
			return cred, nil
		}
		cred, err := m.exchange(ctx)
		if m.observer != nil {
			m.observer.IncCredentialExchange(err)
		}
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cached = &cred
		m.mu.Unlock()
		m.logger.Debug("gateway credential refreshed", slog.Time("expires_at", cred.ExpiresAt))
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (m *Manager) fresh() (Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cached == nil {
		return Credential{}, false
	}
	if !m.now().Before(m.cached.ExpiresAt.Add(-m.margin)) {
		return Credential{}, false
	}
	return *m.cached, true
}

func (m *Manager) exchange(ctx context.Context) (Credential, error) {
	now := m.now()
	assertion, err := m.sign(now)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: sign assertion: %w", ErrCredential, err)
	}

	// Callers sharing this exchange must not lose it to one caller's cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrCredential, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: token exchange: %w", ErrCredential, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: read token response: %w", ErrCredential, err)
	}
	var payload tokenResponse
	decodeErr := json.Unmarshal(body, &payload)
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(payload.Error + " " + payload.ErrorDescription)
		if decodeErr != nil || detail == "" {
			detail = truncate(string(body), maxErrorBodySize)
		}
		return Credential{}, fmt.Errorf("%w: token endpoint returned %s: %s", ErrCredential, resp.Status, detail)
	}
	if decodeErr != nil {
		return Credential{}, fmt.Errorf("%w: decode token response: %w", ErrCredential, decodeErr)
	}
	if payload.AccessToken == "" {
		return Credential{}, fmt.Errorf("%w: token endpoint returned no access_token", ErrCredential)
	}
	ttl := time.Duration(payload.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return Credential{
		AccessToken: payload.AccessToken,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

func (m *Manager) sign(now time.Time) (string, error) {
	// aud stays a plain string; RegisteredClaims would encode it as an array.
	claims := jwt.MapClaims{
		"iss":   m.account.ClientEmail,
		"scope": m.scope,
		"aud":   m.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if m.account.PrivateKeyID != "" {
		token.Header["kid"] = m.account.PrivateKeyID
	}
	return token.SignedString(m.account.PrivateKey)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
