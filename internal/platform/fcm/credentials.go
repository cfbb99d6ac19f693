package fcm

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
	messagingScope  = "https://www.googleapis.com/auth/firebase.messaging"
	defaultTokenURI = "https://oauth2.googleapis.com/token"
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	assertionLifetime    = time.Hour
	defaultTokenLifetime = 3600 * time.Second
	minTokenLifetime     = 60 * time.Second

	// RefreshMargin is how long a credential must still be valid to be handed out.
	RefreshMargin = 60 * time.Second
)

// ErrServiceAccountMissing is returned when no service account has been configured.
var ErrServiceAccountMissing = errors.New("fcm service account is not configured")

// ServiceAccount is the subset of a Google service account key file we need.
type ServiceAccount struct {
	ProjectID    string `json:"project_id"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// ParseServiceAccount decodes and validates a service account key.
func ParseServiceAccount(raw []byte) (*ServiceAccount, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, ErrServiceAccountMissing
	}

	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("invalid fcm service account json: %w", err)
	}

	var missing []string
	if strings.TrimSpace(sa.ProjectID) == "" {
		missing = append(missing, "project_id")
	}
	if strings.TrimSpace(sa.ClientEmail) == "" {
		missing = append(missing, "client_email")
	}
	if strings.TrimSpace(sa.PrivateKey) == "" {
		missing = append(missing, "private_key")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("fcm service account is missing %s", strings.Join(missing, ", "))
	}

	// Keys pasted into env vars usually arrive with escaped newlines.
	sa.PrivateKey = strings.ReplaceAll(sa.PrivateKey, `\n`, "\n")
	if sa.TokenURI == "" {
		sa.TokenURI = defaultTokenURI
	}
	return &sa, nil
}

// Credential is a bearer token for the FCM send API.
type Credential struct {
	Token     string    `json:"token"`
	ProjectID string    `json:"project_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the credential can still be handed out at now.
func (c Credential) ValidAt(now time.Time) bool {
	return c.Token != "" && c.ExpiresAt.Sub(now) >= RefreshMargin
}

// SharedStore is an optional second tier shared between worker instances.
// Load returns nil without error on a miss.
type SharedStore interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred Credential) error
}

// ServiceAccountSource yields the raw service account key on every refresh.
type ServiceAccountSource func() ([]byte, error)

// StaticServiceAccount returns a source that always yields raw.
func StaticServiceAccount(raw []byte) ServiceAccountSource {
	return func() ([]byte, error) { return raw, nil }
}

// CredentialCache owns the process-wide FCM access token.
//
// Concurrent callers that find the token stale within one process share a single
// exchange. Separate processes may each refresh; the last write wins and every
// written value is a complete, valid credential.
type CredentialCache struct {
	source     ServiceAccountSource
	httpClient *http.Client
	shared     SharedStore
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.RWMutex
	current Credential
	flight  singleflight.Group
}

type CacheOption func(*CredentialCache)

func WithTokenHTTPClient(client *http.Client) CacheOption {
	return func(c *CredentialCache) { c.httpClient = client }
}

func WithSharedStore(store SharedStore) CacheOption {
	return func(c *CredentialCache) { c.shared = store }
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *CredentialCache) { c.now = now }
}

func NewCredentialCache(source ServiceAccountSource, logger *slog.Logger, opts ...CacheOption) *CredentialCache {
	c := &CredentialCache{
		source:     source,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		logger:     logger.With("component", "FCMCredentialCache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a credential valid for at least RefreshMargin, exchanging a new
// service-account assertion when the cached one is missing or about to expire.
func (c *CredentialCache) Get(ctx context.Context) (Credential, error) {
	if cred, ok := c.cached(); ok {
		return cred, nil
	}

	v, err, _ := c.flight.Do("credential", func() (any, error) {
		if cred, ok := c.cached(); ok {
			return cred, nil
		}
		if cred, ok := c.loadShared(ctx); ok {
			c.store(cred)
			return cred, nil
		}

		cred, err := c.exchange(ctx)
		if err != nil {
			return Credential{}, err
		}
		c.store(cred)
		c.saveShared(ctx, cred)
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Invalidate discards the cached credential, including the shared copy when the shared
// store supports removal, so the next Get performs a fresh exchange.
func (c *CredentialCache) Invalidate(ctx context.Context) error {
	c.store(Credential{})
	if inv, ok := c.shared.(interface{ Invalidate(context.Context) error }); ok {
		if err := inv.Invalidate(ctx); err != nil {
			return fmt.Errorf("failed to invalidate shared credential: %w", err)
		}
	}
	return nil
}

func (c *CredentialCache) cached() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current.ValidAt(c.now()) {
		return c.current, true
	}
	return Credential{}, false
}

func (c *CredentialCache) store(cred Credential) {
	c.mu.Lock()
	c.current = cred
	c.mu.Unlock()
}

func (c *CredentialCache) loadShared(ctx context.Context) (Credential, bool) {
	if c.shared == nil {
		return Credential{}, false
	}
	cred, err := c.shared.Load(ctx)
	if err != nil {
		c.logger.Warn("Shared credential lookup failed", "err", err)
		return Credential{}, false
	}
	if cred == nil || !cred.ValidAt(c.now()) {
		return Credential{}, false
	}
	c.logger.Debug("Reusing shared credential", "expires_at", cred.ExpiresAt)
	return *cred, true
}

func (c *CredentialCache) saveShared(ctx context.Context, cred Credential) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Save(ctx, cred); err != nil {
		c.logger.Warn("Failed to publish credential to shared store", "err", err)
	}
}

// assertionClaims carries aud as a plain string; RegisteredClaims would encode it as an array.
type assertionClaims struct {
	Scope string `json:"scope"`
	Aud   string `json:"aud"`
	jwt.RegisteredClaims
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (c *CredentialCache) exchange(ctx context.Context) (Credential, error) {
	if c.source == nil {
		return Credential{}, ErrServiceAccountMissing
	}
	raw, err := c.source()
	if err != nil {
		return Credential{}, fmt.Errorf("failed to load fcm service account: %w", err)
	}
	sa, err := ParseServiceAccount(raw)
	if err != nil {
		return Credential{}, err
	}

	assertion, err := signAssertion(sa, c.now())
	if err != nil {
		return Credential{}, err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sa.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("fcm token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Credential{}, fmt.Errorf("failed to read fcm token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Credential{}, fmt.Errorf("fcm token exchange failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Credential{}, fmt.Errorf("invalid fcm token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Credential{}, errors.New("fcm token response has no access_token")
	}

	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if tr.ExpiresIn <= 0 {
		lifetime = defaultTokenLifetime
	}
	if lifetime < minTokenLifetime {
		lifetime = minTokenLifetime
	}

	cred := Credential{
		Token:     tr.AccessToken,
		ProjectID: sa.ProjectID,
		ExpiresAt: c.now().Add(lifetime),
	}
	c.logger.Info("Acquired fcm access token", "project_id", sa.ProjectID, "expires_at", cred.ExpiresAt)
	return cred, nil
}

func signAssertion(sa *ServiceAccount, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("invalid fcm service account private key: %w", err)
	}

	claims := assertionClaims{
		Scope: messagingScope,
		Aud:   sa.TokenURI,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sa.ClientEmail,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if sa.PrivateKeyID != "" {
		token.Header["kid"] = sa.PrivateKeyID
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign fcm assertion: %w", err)
	}
	return signed, nil
}
