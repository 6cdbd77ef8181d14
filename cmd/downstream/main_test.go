package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brizzai/auth-fabric/internal/config"
	"github.com/brizzai/auth-fabric/internal/directory"
	"github.com/brizzai/auth-fabric/internal/middleware"
	"github.com/brizzai/auth-fabric/internal/refresh"
	"github.com/brizzai/auth-fabric/internal/token"
)

const testSigningSecret = "signing-secret"

func testVerifier() middleware.Verifier {
	return middleware.NewLocalVerifier(token.NewVerifier(testSigningSecret))
}

func TestAuthenticatedRequestStartsSignOutWatcher(t *testing.T) {
	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"signedOut":false}`))
	}))
	defer authority.Close()

	cfg := &config.Config{
		Auth: config.AuthConfig{SigningSecret: testSigningSecret, AuthorityURL: authority.URL},
	}
	store := directory.NewMemoryStore()
	monitor := refresh.NewMonitor(authority.URL, 10*time.Millisecond, nil).
		WithClient(authority.Client())
	defer monitor.Stop()

	handler, err := newMux(cfg, store, testVerifier(), monitor)
	require.NoError(t, err)

	raw, err := token.NewIssuer(testSigningSecret, time.Hour).
		Mint(token.Identity{ID: "u1", Email: "a@b.com"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, monitor.Watching())
}

func TestAPIMeWithoutIdentityIs401(t *testing.T) {
	// An operator may exempt /api in the policy file; the handler must then
	// answer anonymous requests cleanly instead of panicking.
	cfg := &config.Config{
		Auth:   config.AuthConfig{SigningSecret: testSigningSecret},
		Policy: config.PolicyConfig{Rules: []config.PolicyRule{{Prefix: "/api"}}},
	}
	store := directory.NewMemoryStore()
	monitor := refresh.NewMonitor("http://authority.invalid", 0, nil)
	defer monitor.Stop()

	handler, err := newMux(cfg, store, testVerifier(), monitor)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, monitor.Watching())
}
