package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"liveorch/internal/core/domain"
	"liveorch/internal/infrastructure/repositories/memory"
)

type tokenService struct {
	grants       atomic.Int32
	refreshes    atomic.Int32
	destinations atomic.Int32
	// failures makes the next n destination calls return 503.
	failures atomic.Int32
	expiry   time.Time
}

func signedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("identity-test"))
	require.NoError(t, err)
	return s
}

func (s *tokenService) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseForm()) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("client_id") != "client" || r.PostForm.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		var access, refresh string
		switch r.PostForm.Get("grant_type") {
		case "client_credentials":
			n := s.grants.Add(1)
			assert.Equal(t, "live_stream", r.PostForm.Get("scope"))
			access = signedToken(t, "grant", s.expiry)
			refresh = "refresh-" + string(rune('0'+n))
		case "refresh_token":
			s.refreshes.Add(1)
			if r.PostForm.Get("refresh_token") == "revoked" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			access = signedToken(t, "refreshed", time.Now().Add(time.Hour))
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  access,
			"token_type":    "bearer",
			"expires_in":    3600,
			"refresh_token": refresh,
			"user_id":       "user-42",
		})
	})
	mux.HandleFunc(destinationPath, func(w http.ResponseWriter, r *http.Request) {
		s.destinations.Add(1)
		if s.failures.Load() > 0 {
			s.failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(destinationResponse{StreamKey: "key-1", RTMPURL: "rtmp://ingest.example.com/live/"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	return NewClient(Config{
		BaseURL:          baseURL,
		ClientID:         "client",
		ClientSecret:     "secret",
		Scope:            "live_stream",
		Timeout:          2 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       time.Millisecond,
		BreakerThreshold: 5,
		BreakerTimeout:   time.Minute,
	}, memory.NewMemoryCredentialStore(), zaptest.NewLogger(t).Sugar())
}

func TestClient_AcquireCredential(t *testing.T) {
	svc := &tokenService{expiry: time.Now().Add(time.Hour).Truncate(time.Second)}
	srv := svc.server(t)
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	assert.False(t, client.IsAuthenticated(ctx))

	cred, err := client.AcquireCredential(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	assert.Equal(t, "user-42", cred.UserID)
	assert.True(t, cred.ExpiresAt.Equal(svc.expiry), "expiry comes from the exp claim")
	assert.True(t, client.IsAuthenticated(ctx))

	// a valid stored credential is reused
	again, err := client.AcquireCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, again.AccessToken)
	assert.Equal(t, int32(1), svc.grants.Load())
}

func TestClient_ExpiredCredentialIsRefreshed(t *testing.T) {
	svc := &tokenService{expiry: time.Now().Add(-time.Minute)}
	srv := svc.server(t)
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	first, err := client.AcquireCredential(ctx)
	require.NoError(t, err)
	assert.False(t, client.IsAuthenticated(ctx), "token already past its exp claim")

	refreshed, err := client.AcquireCredential(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, refreshed.AccessToken)
	assert.Equal(t, "refresh-1", refreshed.RefreshToken, "refresh token kept when not rotated")
	assert.Equal(t, "user-42", refreshed.UserID)
	assert.Equal(t, int32(1), svc.refreshes.Load())
	assert.True(t, client.IsAuthenticated(ctx))
}

func TestClient_RevokedRefreshFallsBackToGrant(t *testing.T) {
	svc := &tokenService{expiry: time.Now().Add(time.Hour)}
	srv := svc.server(t)
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, client.store.Save(ctx, &domain.Credential{
		AccessToken:  "old",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	cred, err := client.AcquireCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), svc.refreshes.Load(), "client errors are not retried")
	assert.Equal(t, int32(1), svc.grants.Load())
	assert.Equal(t, "refresh-1", cred.RefreshToken)
}

func TestClient_RefreshWithoutRefreshToken(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	ctx := context.Background()

	_, err := client.RefreshCredential(ctx)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	require.NoError(t, client.store.Save(ctx, &domain.Credential{AccessToken: "a"}))
	_, err = client.RefreshCredential(ctx)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestClient_BadClientSecret(t *testing.T) {
	svc := &tokenService{expiry: time.Now().Add(time.Hour)}
	srv := svc.server(t)
	client := newTestClient(t, srv.URL)
	client.cfg.ClientSecret = "wrong"

	_, err := client.AcquireCredential(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Zero(t, svc.grants.Load())
}

func TestClient_FetchDestinationCachesPerToken(t *testing.T) {
	svc := &tokenService{expiry: time.Now().Add(time.Hour)}
	srv := svc.server(t)
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	cred, err := client.AcquireCredential(ctx)
	require.NoError(t, err)
	assert.False(t, client.HasDestination(ctx))

	dest, err := client.FetchDestination(ctx, cred.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "key-1", dest.StreamKey)
	assert.Equal(t, "rtmp://ingest.example.com/live/", dest.BaseURL)
	assert.True(t, client.HasDestination(ctx))

	_, err = client.FetchDestination(ctx, cred.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int32(1), svc.destinations.Load())
}

func TestClient_FetchDestinationRetriesServerErrors(t *testing.T) {
	svc := &tokenService{expiry: time.Now().Add(time.Hour)}
	svc.failures.Store(2)
	srv := svc.server(t)
	client := newTestClient(t, srv.URL)

	dest, err := client.FetchDestination(context.Background(), "opaque-token")
	require.NoError(t, err)
	assert.Equal(t, "key-1", dest.StreamKey)
	assert.Equal(t, int32(3), svc.destinations.Load())
}

func TestClient_FetchDestinationUnauthorized(t *testing.T) {
	svc := &tokenService{expiry: time.Now().Add(time.Hour)}
	srv := svc.server(t)
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := client.FetchDestination(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, err = client.FetchDestination(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Equal(t, int32(1), svc.destinations.Load())
}

func TestClient_Logout(t *testing.T) {
	svc := &tokenService{expiry: time.Now().Add(time.Hour)}
	srv := svc.server(t)
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := client.AcquireCredential(ctx)
	require.NoError(t, err)
	require.NoError(t, client.Logout(ctx))
	assert.False(t, client.IsAuthenticated(ctx))
	assert.False(t, client.HasDestination(ctx))
}

func TestTokenExpiry(t *testing.T) {
	fallback := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, fallback, tokenExpiry("opaque", fallback))

	exp := time.Date(2031, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, tokenExpiry(signedToken(t, "x", exp), fallback).Equal(exp))
}
