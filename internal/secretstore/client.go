// Package secretstore talks to the external Secret Store collaborator
// named in spec §5: it mints the per-chat vault key reference used for
// client-side end-to-end encryption. The server never sees plaintext or
// key material, only the opaque reference string.
//
// Grounded on the Danor93 teacher's rag_client.go resty client shape,
// matching internal/authclient's construction.
package secretstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config configures the remote Secret Store endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements internal/repository.SecretStore.
type Client struct {
	http *resty.Client
}

// New builds a Client.
func New(cfg Config) *Client {
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

	return &Client{http: http}
}

type createKeyResponse struct {
	VaultKeyRef string `json:"vault_key_ref"`
}

// CreateKey mints a new vault key reference for chatID. Called exactly
// once, at chat creation (create_chat_with_draft), per spec §4.6.
func (c *Client) CreateKey(ctx context.Context, chatID string) (string, error) {
	var out createKeyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": chatID}).
		SetResult(&out).
		Post("/v1/keys")
	if err != nil {
		return "", fmt.Errorf("secret store request failed: %w", err)
	}
	if resp.StatusCode() != 200 && resp.StatusCode() != 201 {
		return "", fmt.Errorf("secret store error: status %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	if out.VaultKeyRef == "" {
		return "", fmt.Errorf("secret store returned empty vault_key_ref")
	}
	return out.VaultKeyRef, nil
}
