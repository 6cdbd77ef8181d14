package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/brizzai/auth-fabric/internal/config"
	"github.com/brizzai/auth-fabric/internal/directory"
	"github.com/brizzai/auth-fabric/internal/providers"
	"github.com/brizzai/auth-fabric/internal/session"
	"github.com/brizzai/auth-fabric/internal/token"
)

const (
	testSigningSecret = "signing-secret"
	testServiceSecret = "service-secret"
)

type fixture struct {
	handler  *Handler
	sessions *session.Store
	store    *directory.MemoryStore
	mux      *http.ServeMux
}

func newFixture(t *testing.T, targets []config.PropagationTarget, signingSecret string) *fixture {
	t.Helper()

	cfg := &config.Config{
		Auth: config.AuthConfig{
			SigningSecret: signingSecret,
			ServiceSecret: testServiceSecret,
			TokenTTL:      time.Hour,
		},
		Propagation: config.PropagationConfig{Targets: targets},
	}

	sessions := session.NewStore()
	store := directory.NewMemoryStore()
	handler := NewHandler(HandlerParams{
		Config:     cfg,
		Sessions:   sessions,
		Store:      store,
		Propagator: directory.NewPropagatorForTargets(targets, testServiceSecret, nil),
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return &fixture{handler: handler, sessions: sessions, store: store, mux: mux}
}

func (f *fixture) signIn(email, userID string) *session.Session {
	return f.sessions.Create(email, userID, map[string]session.ProviderTokens{
		"google": {AccessToken: "provider-at", Expiry: time.Now().Add(time.Hour)},
	})
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

type stubProvider struct {
	refreshed *oauth2.Token
	err       error
}

func (s *stubProvider) GetAuthURL(state, redirectURI string) string { return "https://idp.example.com" }
func (s *stubProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	return nil, errors.New("not implemented")
}
func (s *stubProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return s.refreshed, s.err
}
func (s *stubProvider) ValidateAccessToken(ctx context.Context, raw string) (*providers.UserInfo, error) {
	return nil, errors.New("not implemented")
}

func TestRefreshEndpoint(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)
	f.handler.provider = &stubProvider{refreshed: &oauth2.Token{
		AccessToken:  "fresh-at",
		RefreshToken: "fresh-rt",
		Expiry:       time.Now().Add(time.Hour),
	}}
	f.handler.cfg.OAuth = &config.OAuthConfig{Provider: "google", BaseURL: "https://auth.example.com"}

	sess := f.sessions.Create("a@b.com", "u1", map[string]session.ProviderTokens{
		"google": {AccessToken: "old-at", RefreshToken: "old-rt"},
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.ID})
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	got := f.sessions.Get(sess.ID)
	assert.Equal(t, "fresh-at", got.Providers["google"].AccessToken)
	assert.Equal(t, "fresh-rt", got.Providers["google"].RefreshToken)
}

func TestRefreshEndpointNotRefreshable(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)
	f.handler.provider = &stubProvider{err: errors.New("invalid_grant")}
	f.handler.cfg.OAuth = &config.OAuthConfig{Provider: "google", BaseURL: "https://auth.example.com"}

	sess := f.sessions.Create("a@b.com", "u1", map[string]session.ProviderTokens{
		"google": {RefreshToken: "stale"},
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.ID})
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["requiresLogin"])
}

func TestGetJWTWithoutSession(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/get-jwt", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "No active session", body["error"])
	assert.Equal(t, true, body["requiresLogin"])
}

func TestGetJWTMintsVerifiableToken(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)
	f.store.Upsert(directory.Record{ID: "u1", Email: "a@b.com", Username: "user", IsAdmin: true})
	sess := f.signIn("a@b.com", "u1")

	req := httptest.NewRequest(http.MethodGet, "/auth/get-jwt", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.ID})
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])

	user := body["user"].(map[string]interface{})
	assert.Equal(t, "a@b.com", user["email"])
	assert.Equal(t, "u1", user["userId"])
	assert.Equal(t, "provider-at", user["accessToken"])

	identity, err := token.NewVerifier(testSigningSecret).Verify(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.ID)
	assert.Equal(t, "a@b.com", identity.Email)
	assert.Equal(t, "user", identity.Username)
	assert.True(t, identity.IsAdmin)
	assert.Equal(t, "provider-at", identity.AccessToken)
}

func TestGetJWTWithoutSigningSecretIsServerError(t *testing.T) {
	f := newFixture(t, nil, "")
	sess := f.signIn("a@b.com", "u1")

	req := httptest.NewRequest(http.MethodGet, "/auth/get-jwt", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.ID})
	rec := f.do(req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSilentLoginRedirectCarriesToken(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)
	sess := f.signIn("a@b.com", "u1")

	req := httptest.NewRequest(http.MethodGet, "/auth/login?silent=true&redirect_uri=https%3A%2F%2Fapp.example.com%2Fback", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.ID})
	rec := f.do(req)

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := rec.Result().Location()
	require.NoError(t, err)

	raw := location.Query().Get("ssoToken")
	require.NotEmpty(t, raw)
	identity, err := token.NewVerifier(testSigningSecret).Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", identity.Email)
}

func TestSilentLoginWithoutSessionIs401(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/login?silent=true", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSilentSSOEndpoint(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)
	sess := f.signIn("a@b.com", "u1")

	req := httptest.NewRequest(http.MethodPost, "/auth/silent-sso", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.ID})
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["ssoToken"])

	rec = f.do(httptest.NewRequest(http.MethodPost, "/auth/silent-sso", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["requiresLogin"])
}

func TestLogoutEndsSessionWithoutSignOutFlag(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)
	sess := f.signIn("a@b.com", "u1")

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.ID})
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.sessions.Len())
	// Voluntary logout must not trip the forced sign-out poll.
	assert.False(t, f.sessions.IsSignedOut("a@b.com"))
}

func TestVerifyEndpoint(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)

	issuer := token.NewIssuer(testSigningSecret, time.Hour)
	raw, err := issuer.Mint(token.Identity{ID: "u1", Email: "a@b.com", IsAdmin: true})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/verify", nil)
	req.Header.Set(directory.ServiceSecretHeader, testServiceSecret)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["active"])
	identity := body["identity"].(map[string]interface{})
	assert.Equal(t, "u1", identity["userId"])

	// Bad token: negative verification, not an error.
	req = httptest.NewRequest(http.MethodPost, "/auth/verify", nil)
	req.Header.Set(directory.ServiceSecretHeader, testServiceSecret)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Missing service secret: caller is not part of the fabric.
	req = httptest.NewRequest(http.MethodPost, "/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignOutCheck(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)
	f.signIn("a@b.com", "u1")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/signout-check?email=a%40b.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["signedOut"])

	f.sessions.DeleteByEmail("a@b.com")

	rec = f.do(httptest.NewRequest(http.MethodGet, "/auth/signout-check?email=a%40b.com", nil))
	assert.Equal(t, true, decode(t, rec)["signedOut"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/auth/signout-check", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInjectionTriggerFansOut(t *testing.T) {
	downstream := func(status int) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if status != http.StatusOK {
				http.Error(w, "boom", status)
				return
			}
			_, _ = w.Write([]byte(`{"success":true}`))
		}))
	}
	okA := downstream(http.StatusOK)
	defer okA.Close()
	failing := downstream(http.StatusInternalServerError)
	defer failing.Close()
	okC := downstream(http.StatusOK)
	defer okC.Close()

	f := newFixture(t, []config.PropagationTarget{
		{Name: "service-a", URL: okA.URL},
		{Name: "service-b", URL: failing.URL},
		{Name: "service-c", URL: okC.URL},
	}, testSigningSecret)

	body := `{"action":"inject","userData":{"id":"u1","email":"a@b.com","username":"user","active":true}}`
	req := httptest.NewRequest(http.MethodPost, directory.InjectionPath, strings.NewReader(body))
	req.Header.Set(directory.ServiceSecretHeader, testServiceSecret)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["success"], "downstream failures never fail the aggregate")

	results := out["results"].([]interface{})
	require.Len(t, results, 3)

	var failures []string
	for _, raw := range results {
		res := raw.(map[string]interface{})
		if res["success"] != true {
			failures = append(failures, res["service"].(string))
		}
	}
	assert.Equal(t, []string{"service-b"}, failures)

	// The authority also keeps its own copy current.
	_, ok := f.store.Get("a@b.com")
	assert.True(t, ok)
}

func TestInjectionTriggerRemoveCleansOwnStateFirst(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)
	f.store.Upsert(directory.Record{ID: "u1", Email: "a@b.com"})
	f.signIn("a@b.com", "u1")

	body := `{"action":"remove","userEmail":"a@b.com"}`
	req := httptest.NewRequest(http.MethodPost, directory.InjectionPath, strings.NewReader(body))
	req.Header.Set(directory.ServiceSecretHeader, testServiceSecret)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := f.store.Get("a@b.com")
	assert.False(t, ok)
	assert.Equal(t, 0, f.sessions.Len())
	assert.True(t, f.sessions.IsSignedOut("a@b.com"))
}

func TestInjectionTriggerValidation(t *testing.T) {
	f := newFixture(t, nil, testSigningSecret)

	cases := []struct {
		name   string
		body   string
		secret string
		want   int
	}{
		{"missing userData", `{"action":"inject"}`, testServiceSecret, http.StatusBadRequest},
		{"missing userEmail", `{"action":"remove"}`, testServiceSecret, http.StatusBadRequest},
		{"unknown action", `{"action":"noop"}`, testServiceSecret, http.StatusBadRequest},
		{"bad secret", `{"action":"remove","userEmail":"a@b.com"}`, "wrong", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, directory.InjectionPath, strings.NewReader(tc.body))
			req.Header.Set(directory.ServiceSecretHeader, tc.secret)
			rec := f.do(req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
