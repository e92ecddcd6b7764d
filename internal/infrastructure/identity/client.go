// Package identity talks to the platform's token service: it obtains
// access credentials and the ingest destination they unlock.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"liveorch/internal/core/domain"
	"liveorch/internal/core/ports"
	"liveorch/pkg/circuitbreaker"
	"liveorch/pkg/retry"
	"liveorch/pkg/tracing"
)

const (
	tokenPath       = "/oauth/token"
	destinationPath = "/live/stream-key"
	maxBodyBytes    = 1 << 20
)

// Config holds the identity endpoint and client credentials.
type Config struct {
	BaseURL          string
	ClientID         string
	ClientSecret     string
	Scope            string
	Timeout          time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

type destinationResponse struct {
	StreamKey string `json:"stream_key"`
	RTMPURL   string `json:"rtmp_url"`
}

// Client implements ports.IdentityService. The credential it obtains is
// kept in a CredentialStore so it survives restarts when Redis backs it.
type Client struct {
	cfg        Config
	store      ports.CredentialStore
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retryCfg   retry.Config
	logger     *zap.SugaredLogger
	now        func() time.Time
}

var _ ports.IdentityService = (*Client)(nil)

// NewClient creates an identity client. Credentials persist in store.
func NewClient(cfg Config, store ports.CredentialStore, logger *zap.SugaredLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	retryCfg := retry.DefaultConfig()
	if cfg.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		retryCfg.InitialDelay = cfg.RetryDelay
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.BreakerThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.BreakerThreshold
	}
	if cfg.BreakerTimeout > 0 {
		breakerCfg.Timeout = cfg.BreakerTimeout
	}
	breaker := circuitbreaker.New(breakerCfg)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("identity circuit breaker changed state", "from", from.String(), "to", to.String())
	})

	return &Client{
		cfg:   cfg,
		store: store,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker:  breaker,
		retryCfg: retryCfg,
		logger:   logger,
		now:      time.Now,
	}
}

// IsAuthenticated reports whether a non-expired access token is stored.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	cred, err := c.store.Load(ctx)
	if err != nil {
		return false
	}
	return cred.AccessToken != "" && !cred.Expired(c.now())
}

// HasDestination reports whether the stored credential carries a complete
// ingest destination.
func (c *Client) HasDestination(ctx context.Context) bool {
	cred, err := c.store.Load(ctx)
	if err != nil || cred.Destination == nil {
		return false
	}
	return cred.Destination.IsComplete()
}

// AcquireCredential returns the stored credential while it is valid,
// refreshes it once expired and otherwise runs the client credentials
// grant.
func (c *Client) AcquireCredential(ctx context.Context) (*domain.Credential, error) {
	stored, err := c.store.Load(ctx)
	switch {
	case err == nil && stored.AccessToken != "" && !stored.Expired(c.now()):
		return stored, nil
	case err == nil && stored.RefreshToken != "":
		cred, refreshErr := c.RefreshCredential(ctx)
		if refreshErr == nil {
			return cred, nil
		}
		c.logger.Warnw("credential refresh failed, requesting a new grant", "error", refreshErr)
	case err != nil && !errors.Is(err, domain.ErrNotAuthenticated):
		return nil, fmt.Errorf("load credential: %w", err)
	}

	ctx, span := tracing.TraceIdentityCall(ctx, "acquire")
	defer span.End()

	grant := clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.BaseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if c.cfg.Scope != "" {
		grant.Scopes = []string{c.cfg.Scope}
	}

	token, err := c.fetchToken(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		return grant.Token(ctx)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("acquire credential: %w", err)
	}

	cred := c.credentialFrom(token)
	if err := c.store.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	c.logger.Infow("identity credential acquired", "user_id", cred.UserID, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// RefreshCredential exchanges the stored refresh token for a new access
// token. The cached destination is kept.
func (c *Client) RefreshCredential(ctx context.Context) (*domain.Credential, error) {
	stored, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if stored.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", domain.ErrNotAuthenticated)
	}

	ctx, span := tracing.TraceIdentityCall(ctx, "refresh")
	defer span.End()

	conf := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.cfg.BaseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	// an already expired token forces the refresh grant
	expired := &oauth2.Token{RefreshToken: stored.RefreshToken, Expiry: c.now().Add(-time.Minute)}

	token, err := c.fetchToken(ctx, func(ctx context.Context) (*oauth2.Token, error) {
		return conf.TokenSource(ctx, expired).Token()
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("refresh credential: %w", err)
	}

	cred := c.credentialFrom(token)
	if cred.RefreshToken == "" {
		cred.RefreshToken = stored.RefreshToken
	}
	if cred.UserID == "" {
		cred.UserID = stored.UserID
	}
	cred.Destination = stored.Destination
	if err := c.store.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	c.logger.Infow("identity credential refreshed", "expires_at", cred.ExpiresAt)
	return cred, nil
}

// FetchDestination returns the ingest destination for accessToken. A
// destination already cached for the same token is returned without a
// request.
func (c *Client) FetchDestination(ctx context.Context, accessToken string) (*domain.Destination, error) {
	if accessToken == "" {
		return nil, domain.ErrNotAuthenticated
	}
	stored, err := c.store.Load(ctx)
	if err == nil && stored.AccessToken == accessToken && stored.Destination != nil && stored.Destination.IsComplete() {
		dest := *stored.Destination
		return &dest, nil
	}

	ctx, span := tracing.TraceIdentityCall(ctx, "destination")
	defer span.End()

	dest, err := retry.Do(ctx, c.retryCfg, func() (*domain.Destination, error) {
		var out *domain.Destination
		err := c.breaker.Execute(func() error {
			var callErr error
			out, callErr = c.getDestination(ctx, accessToken)
			return callErr
		})
		return out, c.classify(err)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("fetch destination: %w", err)
	}

	if stored != nil && stored.AccessToken == accessToken {
		stored.Destination = dest
		if err := c.store.Save(ctx, stored); err != nil {
			c.logger.Warnw("failed to cache destination", "error", err)
		}
	}
	c.logger.Infow("ingest destination fetched", "destination_host", domain.HostOf(dest.BaseURL))
	return dest, nil
}

// Logout forgets the stored credential and destination.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	c.logger.Infow("identity credential cleared")
	return nil
}

func (c *Client) getDestination(ctx context.Context, accessToken string) (*domain.Destination, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+destinationPath, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("destination endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusUnauthorized {
			statusErr = fmt.Errorf("%w: %v", domain.ErrNotAuthenticated, statusErr)
		}
		return nil, statusErr
	}

	var payload destinationResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode destination: %w", err))
	}
	dest := &domain.Destination{StreamKey: payload.StreamKey, BaseURL: payload.RTMPURL}
	if !dest.IsComplete() {
		return nil, retry.Permanent(domain.ErrNoDestination)
	}
	return dest, nil
}

// fetchToken runs a token request through the breaker and retry policy.
func (c *Client) fetchToken(ctx context.Context, fn func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return retry.Do(ctx, c.retryCfg, func() (*oauth2.Token, error) {
		var token *oauth2.Token
		err := c.breaker.Execute(func() error {
			var callErr error
			token, callErr = fn(ctx)
			return callErr
		})
		return token, c.classify(err)
	})
}

// classify marks errors that a retry cannot fix.
func (c *Client) classify(err error) error {
	if err == nil || retry.IsPermanent(err) {
		return err
	}
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, domain.ErrNotAuthenticated) {
		return retry.Permanent(err)
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
		return retry.Permanent(fmt.Errorf("%w: %v", domain.ErrNotAuthenticated, err))
	}
	return err
}

func (c *Client) credentialFrom(token *oauth2.Token) *domain.Credential {
	cred := &domain.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    tokenExpiry(token.AccessToken, token.Expiry),
	}
	if userID, ok := token.Extra("user_id").(string); ok {
		cred.UserID = userID
	}
	return cred
}

// tokenExpiry prefers the exp claim of a JWT access token. Opaque tokens
// fall back to the expiry the token endpoint reported.
func tokenExpiry(accessToken string, fallback time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return fallback
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time
}
