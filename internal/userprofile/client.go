// Package userprofile talks to the external User Profile collaborator
// named in spec §5/§6: `get_last_opened_chat`/`set_last_opened_chat`.
// GetLastOpenedChat is used by the initial_sync handler's active_chat_load
// step. SetLastOpenedChat is called by the set_active_chat handler only
// when LAST_OPENED_CHAT_PERSIST_ON_SET_ACTIVE is enabled; with the flag
// off, set_active_chat never calls it.
//
// Grounded on the Danor93 teacher's rag_client.go resty client shape,
// matching internal/authclient and internal/secretstore.
package userprofile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config configures the remote User Profile endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements the user-profile collaborator contract.
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

type lastOpenedResponse struct {
	ChatID string `json:"chat_id"`
}

// GetLastOpenedChat resolves the user's most recently opened chat. A 404
// means "none" and is not an error — new users have no last-opened chat
// yet, per spec §4.3 step 1 ("if present, emit active_chat_load").
func (c *Client) GetLastOpenedChat(ctx context.Context, userHash string) (chatID string, found bool, err error) {
	var out lastOpenedResponse
	resp, reqErr := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/users/" + userHash + "/last-opened-chat")
	if reqErr != nil {
		return "", false, fmt.Errorf("user profile request failed: %w", reqErr)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return "", false, fmt.Errorf("user profile error: status %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	if out.ChatID == "" {
		return "", false, nil
	}
	return out.ChatID, true, nil
}

// SetLastOpenedChat persists chatID as the user's most recently opened
// chat. Its only caller is the set_active_chat handler, which calls it
// only when LAST_OPENED_CHAT_PERSIST_ON_SET_ACTIVE is enabled.
func (c *Client) SetLastOpenedChat(ctx context.Context, userHash, chatID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": chatID}).
		Put("/v1/users/" + userHash + "/last-opened-chat")
	if err != nil {
		return fmt.Errorf("user profile request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("user profile error: status %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}
