package fcm_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-worker/internal/platform/fcm"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// tokenServer simulates the OAuth2 token endpoint and verifies the signed assertion.
type tokenServer struct {
	*httptest.Server
	calls     atomic.Int64
	expiresIn int64
	status    int
}

func newTokenServer(t *testing.T, key *rsa.PrivateKey) *tokenServer {
	t.Helper()
	ts := &tokenServer{expiresIn: 3600, status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(_ *jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithoutClaimsValidation())
		assert.NoError(t, err)
		assert.Equal(t, "worker@test-project.iam.gserviceaccount.com", claims["iss"])
		assert.Equal(t, "https://www.googleapis.com/auth/firebase.messaging", claims["scope"])
		assert.Equal(t, ts.URL+"/token", claims["aud"])
		iat, _ := claims["iat"].(float64)
		exp, _ := claims["exp"].(float64)
		assert.Equal(t, float64(3600), exp-iat)

		if ts.status != http.StatusOK {
			w.WriteHeader(ts.status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("access-%d", n),
			"expires_in":   ts.expiresIn,
			"token_type":   "Bearer",
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newRSAKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, string(pemBytes)
}

func serviceAccountJSON(t *testing.T, keyPEM, tokenURI string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"project_id":   "test-project",
		"client_email": "worker@test-project.iam.gserviceaccount.com",
		"private_key":  keyPEM,
		"token_uri":    tokenURI,
	})
	require.NoError(t, err)
	return raw
}

func TestCredentialCache_ReusesValidToken(t *testing.T) {
	ctx := context.Background()
	key, keyPEM := newRSAKey(t)
	server := newTokenServer(t, key)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cache := fcm.NewCredentialCache(
		fcm.StaticServiceAccount(serviceAccountJSON(t, keyPEM, server.URL+"/token")),
		newTestLogger(),
		fcm.WithClock(clock.Now),
	)

	first, err := cache.Get(ctx)
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	second, err := cache.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), server.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, "test-project", first.ProjectID)
	assert.Equal(t, "access-1", first.Token)
}

func TestCredentialCache_RefreshesInsideMargin(t *testing.T) {
	ctx := context.Background()
	key, keyPEM := newRSAKey(t)
	server := newTokenServer(t, key)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cache := fcm.NewCredentialCache(
		fcm.StaticServiceAccount(serviceAccountJSON(t, keyPEM, server.URL+"/token")),
		newTestLogger(),
		fcm.WithClock(clock.Now),
	)

	_, err := cache.Get(ctx)
	require.NoError(t, err)

	// 59s of validity left: too close to expiry to hand out.
	clock.Advance(3600*time.Second - 59*time.Second)
	cred, err := cache.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), server.calls.Load())
	assert.Equal(t, "access-2", cred.Token)
}

func TestCredentialCache_ExpiryDefaults(t *testing.T) {
	ctx := context.Background()
	key, keyPEM := newRSAKey(t)
	start := time.Unix(1_700_000_000, 0)

	testCases := []struct {
		name      string
		expiresIn int64
		expected  time.Duration
	}{
		{name: "Omitted defaults to an hour", expiresIn: 0, expected: 3600 * time.Second},
		{name: "Short lifetime floored at a minute", expiresIn: 5, expected: 60 * time.Second},
		{name: "Provider lifetime honoured", expiresIn: 1800, expected: 1800 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := newTokenServer(t, key)
			server.expiresIn = tc.expiresIn
			clock := &fakeClock{now: start}

			cache := fcm.NewCredentialCache(
				fcm.StaticServiceAccount(serviceAccountJSON(t, keyPEM, server.URL+"/token")),
				newTestLogger(),
				fcm.WithClock(clock.Now),
			)

			cred, err := cache.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, start.Add(tc.expected), cred.ExpiresAt)
		})
	}
}

func TestCredentialCache_ExchangeFailure(t *testing.T) {
	key, keyPEM := newRSAKey(t)
	server := newTokenServer(t, key)
	server.status = http.StatusUnauthorized

	cache := fcm.NewCredentialCache(
		fcm.StaticServiceAccount(serviceAccountJSON(t, keyPEM, server.URL+"/token")),
		newTestLogger(),
	)

	_, err := cache.Get(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int64(1), server.calls.Load())
}

func TestCredentialCache_InvalidServiceAccount(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		contains string
	}{
		{name: "Empty", raw: "", contains: "not configured"},
		{name: "Malformed", raw: "{", contains: "invalid fcm service account json"},
		{name: "Missing fields", raw: `{"project_id":"p"}`, contains: "client_email, private_key"},
		{name: "Bad key", raw: `{"project_id":"p","client_email":"e","private_key":"nope"}`, contains: "private key"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cache := fcm.NewCredentialCache(fcm.StaticServiceAccount([]byte(tc.raw)), newTestLogger())
			_, err := cache.Get(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestCredentialCache_ConcurrentCallersShareExchange(t *testing.T) {
	ctx := context.Background()
	key, keyPEM := newRSAKey(t)
	server := newTokenServer(t, key)

	cache := fcm.NewCredentialCache(
		fcm.StaticServiceAccount(serviceAccountJSON(t, keyPEM, server.URL+"/token")),
		newTestLogger(),
	)

	const callers = 16
	var wg sync.WaitGroup
	creds := make([]fcm.Credential, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds[i], errs[i] = cache.Get(ctx)
		}(i)
	}
	wg.Wait()

	// A redundant refresh is tolerated; an invalid or torn credential is not.
	calls := server.calls.Load()
	assert.GreaterOrEqual(t, calls, int64(1))
	assert.LessOrEqual(t, calls, int64(callers))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.NotEmpty(t, creds[i].Token)
		assert.Equal(t, "test-project", creds[i].ProjectID)
		assert.True(t, creds[i].ValidAt(time.Now()))
	}
}

type memorySharedStore struct {
	mu            sync.Mutex
	cred          *fcm.Credential
	saves         int
	invalidations int
}

func (m *memorySharedStore) Invalidate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	m.invalidations++
	return nil
}

func (m *memorySharedStore) Load(_ context.Context) (*fcm.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *memorySharedStore) Save(_ context.Context, cred fcm.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = &cred
	m.saves++
	return nil
}

func TestCredentialCache_SharedStore(t *testing.T) {
	ctx := context.Background()
	key, keyPEM := newRSAKey(t)
	server := newTokenServer(t, key)
	shared := &memorySharedStore{}
	sa := fcm.StaticServiceAccount(serviceAccountJSON(t, keyPEM, server.URL+"/token"))

	first := fcm.NewCredentialCache(sa, newTestLogger(), fcm.WithSharedStore(shared))
	second := fcm.NewCredentialCache(sa, newTestLogger(), fcm.WithSharedStore(shared))

	a, err := first.Get(ctx)
	require.NoError(t, err)
	b, err := second.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), server.calls.Load())
	assert.Equal(t, 1, shared.saves)
	assert.Equal(t, a.Token, b.Token)
}

func TestCredentialCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	key, keyPEM := newRSAKey(t)
	server := newTokenServer(t, key)
	shared := &memorySharedStore{}

	cache := fcm.NewCredentialCache(
		fcm.StaticServiceAccount(serviceAccountJSON(t, keyPEM, server.URL+"/token")),
		newTestLogger(),
		fcm.WithSharedStore(shared),
	)

	first, err := cache.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx))
	second, err := cache.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, shared.invalidations)
	assert.Equal(t, int64(2), server.calls.Load())
	assert.NotEqual(t, first.Token, second.Token)
}

func TestCredentialCache_InvalidateWithoutSharedStore(t *testing.T) {
	cache := fcm.NewCredentialCache(fcm.StaticServiceAccount(nil), newTestLogger())

	assert.NoError(t, cache.Invalidate(context.Background()))
}

func TestCredentialCache_AssertionAudienceIsString(t *testing.T) {
	key, keyPEM := newRSAKey(t)
	var aud any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(_ *jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithoutClaimsValidation())
		assert.NoError(t, err)
		aud = claims["aud"]
		_, _ = w.Write([]byte(`{"access_token":"a","expires_in":3600}`))
	}))
	t.Cleanup(server.Close)

	cache := fcm.NewCredentialCache(
		fcm.StaticServiceAccount(serviceAccountJSON(t, keyPEM, server.URL+"/token")),
		newTestLogger(),
	)
	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	assert.IsType(t, "", aud)
	assert.Equal(t, server.URL+"/token", aud)
}

func TestCredentialCache_TruncatedTokenResponse(t *testing.T) {
	_, keyPEM := newRSAKey(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte(`{"access_token":`))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	t.Cleanup(server.Close)

	cache := fcm.NewCredentialCache(
		fcm.StaticServiceAccount(serviceAccountJSON(t, keyPEM, server.URL+"/token")),
		newTestLogger(),
	)
	_, err := cache.Get(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read fcm token response")
}
