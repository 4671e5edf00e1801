// Package domain holds the core chat/message types shared by the
// repository, cache tier, version arbiter and handlers.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Component is one of the three independently versioned facets of a chat.
type Component string

const (
	ComponentTitle    Component = "title"
	ComponentDraft    Component = "draft"
	ComponentMessages Component = "messages"
)

// IsValid reports whether c is one of the known components.
func (c Component) IsValid() bool {
	switch c {
	case ComponentTitle, ComponentDraft, ComponentMessages:
		return true
	default:
		return false
	}
}

// MessageStatus is the transient lifecycle state of an assistant/user message.
type MessageStatus string

const (
	StatusSending         MessageStatus = "sending"
	StatusStreaming       MessageStatus = "streaming"
	StatusWaitingForUser  MessageStatus = "waiting_for_user"
	StatusFailed          MessageStatus = "failed"
	StatusSynced          MessageStatus = "synced"
)

// IsTerminal reports whether the status is durable (synced or failed).
func (s MessageStatus) IsTerminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// Chat is the chat container. UserHash is a salted hash of the owning user;
// the server never holds the plaintext user id beside it.
type Chat struct {
	ChatID     string `json:"chat_id"`
	UserHash   string `json:"user_hash"`
	VaultKeyRef string `json:"vault_key_ref"`

	EncryptedTitle []byte `json:"encrypted_title,omitempty"`
	EncryptedDraft []byte `json:"encrypted_draft,omitempty"`

	TitleV    int64 `json:"title_v"`
	DraftV    int64 `json:"draft_v"`
	MessagesV int64 `json:"messages_v"`

	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
	LastMessageTimestamp      *time.Time `json:"last_message_timestamp,omitempty"`
	LastEditedOverallTimestamp time.Time `json:"last_edited_overall_timestamp"`

	// Persisted reports whether the chat has at least one completed message
	// and therefore lives in the Document Store, not just the Hot cache.
	Persisted bool `json:"persisted"`
}

// VersionOf returns the current value of the named component.
func (c *Chat) VersionOf(component Component) int64 {
	switch component {
	case ComponentTitle:
		return c.TitleV
	case ComponentDraft:
		return c.DraftV
	case ComponentMessages:
		return c.MessagesV
	default:
		return 0
	}
}

// SetVersion assigns the named component's version.
func (c *Chat) SetVersion(component Component, v int64) {
	switch component {
	case ComponentTitle:
		c.TitleV = v
	case ComponentDraft:
		c.DraftV = v
	case ComponentMessages:
		c.MessagesV = v
	}
}

// Message is one message within a chat.
type Message struct {
	MessageID        string        `json:"message_id"`
	ChatID           string        `json:"chat_id"`
	EncryptedContent []byte        `json:"encrypted_content"`
	SenderName       string        `json:"sender_name"`
	CreatedAt        time.Time     `json:"created_at"`
	Status           MessageStatus `json:"status"`
}

// NewMessageID mints a server-assigned message id.
func NewMessageID() string {
	return uuid.NewString()
}

// ChatID derives the deterministic chat id hash8(userHash) + "_" + clientChatID,
// per §4.3: create_chat_with_draft.
func ChatID(userHash, clientChatID string) string {
	return hash8(userHash) + "_" + clientChatID
}
