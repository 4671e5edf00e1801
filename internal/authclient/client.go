// Package authclient talks to the external Auth Service collaborator named
// in spec §5/§4.5: it resolves a connection's bearer token to a user_hash
// and classifies a device fingerprint as known or new.
//
// Grounded on the Danor93 teacher's rag_client.go (resty client with base
// URL, timeout, and retry-on-5xx configured once at construction), since
// insiderfyr's own auth-service is out of scope here (see DESIGN.md).
// Known-device bookkeeping is delegated to internal/store.KnownDeviceLedger,
// which this client's own process owns — the remote Auth Service is the
// token authority, the local ledger is the fingerprint authority, per
// spec §5's split between the two collaborators.
package authclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

// KnownDeviceLedger is the subset of internal/store.KnownDeviceLedger this
// client needs, kept as an interface so tests can fake it.
type KnownDeviceLedger interface {
	IsKnown(ctx context.Context, userHash, deviceFP string) (bool, error)
}

// Config configures the remote Auth Service endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements router.AuthResolver.
type Client struct {
	http    *resty.Client
	ledger  KnownDeviceLedger
}

// New builds a Client. timeout/retry tuning mirrors the Danor93 teacher's
// RAG client: bounded retries on server errors only, never on 4xx.
func New(cfg Config, ledger KnownDeviceLedger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	http := resty.New()
	http.SetTimeout(timeout)
	http.SetRetryCount(3)
	http.SetRetryWaitTime(200 * time.Millisecond)
	http.SetRetryMaxWaitTime(2 * time.Second)
	http.SetHeader("Content-Type", "application/json")
	http.SetHeader("Accept", "application/json")
	http.SetBaseURL(cfg.BaseURL)
	http.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500
	})

	return &Client{http: http, ledger: ledger}
}

type resolveTokenResponse struct {
	UserHash string `json:"user_hash"`
}

// ResolveToken validates the bearer token against the Auth Service and
// returns the derived user_hash. The token is not parsed locally here;
// the remote call is the only check.
func (c *Client) ResolveToken(ctx context.Context, token string) (string, error) {
	var out resolveTokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"token": token}).
		SetResult(&out).
		Post("/v1/tokens/resolve")
	if err != nil {
		return "", fmt.Errorf("auth service request failed: %w", err)
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return "", fmt.Errorf("token rejected: status %d", resp.StatusCode())
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("auth service error: status %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	if out.UserHash == "" {
		return "", fmt.Errorf("auth service returned empty user_hash")
	}
	return out.UserHash, nil
}

// IsKnownDevice delegates to the local known-device ledger — the Auth
// Service owns token validity, this process owns the fingerprint set, per
// spec §5.
func (c *Client) IsKnownDevice(ctx context.Context, userHash, deviceFP string) (bool, error) {
	known, err := c.ledger.IsKnown(ctx, userHash, deviceFP)
	if err != nil {
		return false, fmt.Errorf("known device lookup: %w", err)
	}
	return known, nil
}

// ParseLocalClaims best-effort decodes a JWT's claims without verifying
// signature, for diagnostic logging only — never used for an auth
// decision, which always goes through ResolveToken.
func ParseLocalClaims(token string) (jwt.MapClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return nil, fmt.Errorf("parse unverified claims: %w", err)
	}
	return claims, nil
}
