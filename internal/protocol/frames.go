// Package protocol implements the wire frame types for C5/C6: a tagged
// variant decoder keyed on each frame's `type`, validated at decode time.
//
// Grounded on the teacher's flat `handlers.Message` struct (one struct,
// every field optional, validated ad hoc inside each handler) but
// reshaped per spec §9's note that a tagged-variant decoder validated at
// decode time is preferred: each inbound payload type implements its own
// decode+validate so an unknown or malformed frame is rejected before any
// handler ever sees it, rather than after.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the outer shape of every inbound frame: a stable `type`
// discriminator and a type-specific payload decoded on demand.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound frame type discriminators (client -> server).
const (
	TypeInitialSync      = "initial_sync"
	TypeOfflineSync      = "offline_sync"
	TypeDraftUpdate      = "draft_update"
	TypeTitleUpdate      = "title_update"
	TypeDeleteDraft      = "delete_draft"
	TypeMessageReceived  = "message_received"
	TypeGetChatMessages  = "get_chat_messages"
	TypeChatContentBatch = "chat_content_batch"
	TypeDeleteChat       = "delete_chat"
	TypeSetActiveChat    = "set_active_chat"
	TypeCreateChatDraft  = "create_chat_with_draft"
	TypeHeartbeat        = "heartbeat"
)

// Internal ingress frame type discriminators, consumed from the Worker
// Queue rather than over the client WebSocket.
const (
	TypeAIStreamChunk  = "ai_stream_chunk"
	TypeAIMessageReady = "ai_message_ready"
)

// Outbound frame type discriminators (server -> client).
const (
	TypeActiveChatLoad   = "active_chat_load"
	TypeDeltaSyncData    = "delta_sync_data"
	TypeComponentUpdated = "%s_updated" // formatted with "draft"/"title"
	TypeComponentConflict = "%s_conflict"
	TypeDraftCleared     = "draft_cleared"
	TypeMessageNew       = "message_new"
	TypeChatDeleted      = "chat_deleted"
	TypeError            = "error"
	TypeAck              = "ack"
	TypeOfflineSyncResult = "offline_sync_result"
	TypeChatMessages     = "chat_messages"
	TypeChatContentBatchResult = "chat_content_batch_result"
)

// ErrorCode is the stable `code` field of an error frame, matching the
// failure taxonomy in spec §4.6.
type ErrorCode string

const (
	CodeProtocolError    ErrorCode = "protocol_error"
	CodeStepUpRequired   ErrorCode = "step_up_required"
	CodeVersionConflict  ErrorCode = "version_conflict"
	CodeQueueOverflow    ErrorCode = "queue_overflow"
	CodeUpstreamFailure  ErrorCode = "upstream_failure"
	CodeNotOwner         ErrorCode = "not_owner"
	CodeNotFound         ErrorCode = "not_found"
	CodeRateLimited      ErrorCode = "rate_limited"
)

// Decode parses the outer envelope and dispatches to the type-specific
// payload decoder, returning a concrete, already-validated payload value.
// An unrecognized type or a payload that fails its own validation both
// surface the same sentinel so the router can close with a protocol
// error, per §4.5's "unknown types: close the session with protocol
// error."
func Decode(raw []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	decoder, ok := decoders[env.Type]
	if !ok {
		return env.Type, nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Type)
	}
	payload, err := decoder(env.Payload)
	if err != nil {
		return env.Type, nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env.Type, payload, nil
}

type decodeFunc func(json.RawMessage) (interface{}, error)

var decoders = map[string]decodeFunc{
	TypeInitialSync:      func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &InitialSync{}) },
	TypeOfflineSync:      func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &OfflineSync{}) },
	TypeDraftUpdate:      func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &ComponentUpdate{}) },
	TypeTitleUpdate:      func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &ComponentUpdate{}) },
	TypeDeleteDraft:      func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &ChatRef{}) },
	TypeMessageReceived:  func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &MessageReceived{}) },
	TypeGetChatMessages:  func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &ChatRef{}) },
	TypeChatContentBatch: func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &ChatContentBatch{}) },
	TypeDeleteChat:       func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &ChatRef{}) },
	TypeSetActiveChat:    func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &SetActiveChat{}) },
	TypeCreateChatDraft:  func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &CreateChatWithDraft{}) },
	TypeHeartbeat:        func(p json.RawMessage) (interface{}, error) { return &Heartbeat{}, nil },
	TypeAIStreamChunk:    func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &AIStreamChunk{}) },
	TypeAIMessageReady:   func(p json.RawMessage) (interface{}, error) { return decodeValidate(p, &AIMessageReady{}) },
}

// validator is implemented by every inbound payload type.
type validator interface {
	Validate() error
}

func decodeValidate(raw json.RawMessage, v validator) (interface{}, error) {
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// ErrMalformedEnvelope is returned by Decode for any unparseable,
// unknown-typed, or payload-invalid frame.
var ErrMalformedEnvelope = fmt.Errorf("malformed or unknown frame")

// --- inbound payloads ------------------------------------------------------

// ClientVersions mirrors repository.ClientVersions for the wire format.
type ClientVersions struct {
	TitleV    int64 `json:"title_v"`
	DraftV    int64 `json:"draft_v"`
	MessagesV int64 `json:"messages_v"`
}

// InitialSync is the initial_sync payload.
type InitialSync struct {
	LastSyncTS    time.Time                 `json:"last_sync_ts"`
	KnownVersions map[string]ClientVersions `json:"known_versions"`
}

func (p *InitialSync) Validate() error { return nil }

// OfflineSync is the offline_sync payload: a strictly-ordered batch of
// client-originated operations collected while offline.
type OfflineSync struct {
	Operations []OfflineOperation `json:"operations"`
}

func (p *OfflineSync) Validate() error {
	if len(p.Operations) == 0 {
		return fmt.Errorf("offline_sync: operations must not be empty")
	}
	for i, op := range p.Operations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("offline_sync: operation %d: %w", i, err)
		}
	}
	return nil
}

// OfflineOperation is one queued client-originated mutation, tagged the
// same way the outer envelope is.
type OfflineOperation struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (op *OfflineOperation) Validate() error {
	if op.Type == "" {
		return fmt.Errorf("operation missing type")
	}
	if _, ok := decoders[op.Type]; !ok {
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	return nil
}

// Decode decodes this queued operation's payload using the same decoder
// table as top-level frames.
func (op *OfflineOperation) Decode() (interface{}, error) {
	decoder := decoders[op.Type]
	return decoder(op.Payload)
}

// ComponentUpdate is the draft_update/title_update payload.
type ComponentUpdate struct {
	ChatID           string `json:"chat_id"`
	BasedOnVersion   int64  `json:"based_on_version"`
	EncryptedContent []byte `json:"encrypted_content"`
}

func (p *ComponentUpdate) Validate() error {
	if p.ChatID == "" {
		return fmt.Errorf("chat_id required")
	}
	return nil
}

// ChatRef is the shared payload shape for delete_draft/get_chat_messages/
// delete_chat: just a chat_id.
type ChatRef struct {
	ChatID string `json:"chat_id"`
}

func (p *ChatRef) Validate() error {
	if p.ChatID == "" {
		return fmt.Errorf("chat_id required")
	}
	return nil
}

// MessageReceived is the message_received payload.
type MessageReceived struct {
	ChatID           string `json:"chat_id"`
	ClientChatID     string `json:"client_chat_id"`
	EncryptedContent []byte `json:"encrypted_content"`
	SenderName       string `json:"sender_name"`
}

func (p *MessageReceived) Validate() error {
	if p.ChatID == "" && p.ClientChatID == "" {
		return fmt.Errorf("chat_id or client_chat_id required")
	}
	if len(p.EncryptedContent) == 0 {
		return fmt.Errorf("encrypted_content required")
	}
	return nil
}

// ChatContentBatch is the chat_content_batch payload: a bounded set of
// chat ids for progressive loading.
type ChatContentBatch struct {
	ChatIDs []string `json:"chat_ids"`
}

const maxChatContentBatch = 50

func (p *ChatContentBatch) Validate() error {
	if len(p.ChatIDs) == 0 {
		return fmt.Errorf("chat_ids must not be empty")
	}
	if len(p.ChatIDs) > maxChatContentBatch {
		return fmt.Errorf("chat_ids exceeds the %d-entry batch bound", maxChatContentBatch)
	}
	return nil
}

// SetActiveChat is the set_active_chat payload. ChatID is empty to clear.
type SetActiveChat struct {
	ChatID string `json:"chat_id"`
}

func (p *SetActiveChat) Validate() error { return nil }

// CreateChatWithDraft is the create_chat_with_draft payload.
type CreateChatWithDraft struct {
	ClientChatID     string `json:"client_chat_id"`
	EncryptedDraft   []byte `json:"encrypted_draft"`
}

func (p *CreateChatWithDraft) Validate() error {
	if p.ClientChatID == "" {
		return fmt.Errorf("client_chat_id required")
	}
	return nil
}

// Heartbeat is an empty keep-alive payload.
type Heartbeat struct{}

// AIStreamChunk is the internal ai_stream_chunk ingress payload, produced
// by the assistant worker, not by a client.
type AIStreamChunk struct {
	UserHash string `json:"user_hash"`
	ChatID   string `json:"chat_id"`
	Chunk    []byte `json:"chunk"`
}

func (p *AIStreamChunk) Validate() error {
	if p.ChatID == "" || p.UserHash == "" {
		return fmt.Errorf("chat_id and user_hash required")
	}
	return nil
}

// AIMessageReady is the internal ai_message_ready ingress payload: the
// assistant's response reached a terminal state.
type AIMessageReady struct {
	UserHash         string `json:"user_hash"`
	ChatID           string `json:"chat_id"`
	EncryptedContent []byte `json:"encrypted_content"`
	Status           string `json:"status"` // "synced" or "failed"
}

func (p *AIMessageReady) Validate() error {
	if p.ChatID == "" || p.UserHash == "" {
		return fmt.Errorf("chat_id and user_hash required")
	}
	if p.Status != "synced" && p.Status != "failed" {
		return fmt.Errorf("status must be synced or failed")
	}
	return nil
}

// --- outbound frame builders -----------------------------------------------

// Outbound marshals any payload value together with its type tag into
// the wire envelope shape {"type": ..., ...payload fields...}.
func Outbound(frameType string, payload interface{}) ([]byte, error) {
	fields, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbound payload: %w", err)
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(fields, &merged); err != nil {
		return nil, fmt.Errorf("outbound payload must marshal to an object: %w", err)
	}
	merged["type"] = json.RawMessage(fmt.Sprintf("%q", frameType))
	return json.Marshal(merged)
}

// ErrorFrame is the payload of a TypeError outbound frame.
type ErrorFrame struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// ComponentUpdatedFrame is the payload of a "<component>_updated" frame.
type ComponentUpdatedFrame struct {
	ChatID     string `json:"chat_id"`
	NewVersion int64  `json:"new_version"`
	Content    []byte `json:"content"`
}

// ComponentConflictFrame is the payload of a "<component>_conflict" frame.
type ComponentConflictFrame struct {
	ChatID         string `json:"chat_id"`
	CurrentVersion int64  `json:"current_version"`
}
