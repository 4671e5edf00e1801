// Package handlers implements C6: one file per message type, each built
// from the standard parameter bundle spec §4.5 names. router.HandlerContext
// already carries session/user/device_fp/payload; Deps closes each
// registered router.HandlerFunc over the repository and connection manager
// handles §4.5 also names in that bundle.
//
// Grounded on the teacher's chat_handler.go SendMessage/generateAIResponse
// (persist-then-broadcast, async assistant hand-off) and
// websocket_handler.go's handleChatMessage (typing/streaming indicator
// then final message), reshaped per spec §4.6's exact per-handler
// algorithms.
package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/repository"
	"github.com/veilchat/chatsync/internal/router"
	"github.com/veilchat/chatsync/internal/version"
)

// Repository is the subset of repository.ChatRepository the handlers need,
// kept as an interface so tests can fake it without a database.
type Repository interface {
	GetChat(ctx context.Context, userHash, chatID string) (*domain.Chat, []domain.Message, error)
	CreateChatWithDraft(ctx context.Context, userHash, clientChatID string, encryptedDraft []byte) (string, error)
	UpdateDraft(ctx context.Context, userHash, chatID string, basedOnVersion int64, encryptedDraft []byte) (version.Result, error)
	ClearDraft(ctx context.Context, userHash, chatID string) error
	UpdateTitle(ctx context.Context, userHash, chatID string, basedOnVersion int64, encryptedTitle []byte) (version.Result, error)
	AppendMessage(ctx context.Context, userHash, chatID string, msg domain.Message) (string, error)
	DeleteChat(ctx context.Context, userHash, chatID string) error
	FetchDelta(ctx context.Context, userHash string, lastSync time.Time, known map[string]repository.ClientVersions) (repository.DeltaPayload, error)
}

// ConnManager is the subset of connmgr.Manager the handlers need.
type ConnManager interface {
	SendToDevice(userHash, deviceFP string, frame []byte) error
	BroadcastToUser(userHash string, frame []byte, exceptDeviceFP string)
	SetActiveChat(userHash, deviceFP, chatID string) error
}

// UserProfile is the subset of the User Profile collaborator the
// initial_sync / set_active_chat handlers need.
type UserProfile interface {
	GetLastOpenedChat(ctx context.Context, userHash string) (chatID string, found bool, err error)
	SetLastOpenedChat(ctx context.Context, userHash, chatID string) error
}

// Deps bundles everything a handler closure needs beyond the per-call
// router.HandlerContext. One Deps is built once at startup and its
// methods are registered against the Router.
type Deps struct {
	Repo    Repository
	Conns   ConnManager
	Profile UserProfile
	Logger  *zap.Logger

	// PersistLastOpenedOnSetActive gates SPEC_FULL.md's resolved Open
	// Question #2: set_active_chat never calls
	// user_profile.set_last_opened_chat unless this is true.
	PersistLastOpenedOnSetActive bool
}

// Register binds every C6 handler to r under its spec §6 frame type.
func (d *Deps) Register(r *router.Router) {
	r.Register(protocol.TypeInitialSync, d.InitialSync)
	r.Register(protocol.TypeOfflineSync, d.OfflineSync)
	r.Register(protocol.TypeDraftUpdate, d.DraftUpdate)
	r.Register(protocol.TypeTitleUpdate, d.TitleUpdate)
	r.Register(protocol.TypeDeleteDraft, d.DeleteDraft)
	r.Register(protocol.TypeMessageReceived, d.MessageReceived)
	r.Register(protocol.TypeGetChatMessages, d.GetChatMessages)
	r.Register(protocol.TypeChatContentBatch, d.ChatContentBatch)
	r.Register(protocol.TypeDeleteChat, d.DeleteChat)
	r.Register(protocol.TypeSetActiveChat, d.SetActiveChat)
	r.Register(protocol.TypeCreateChatDraft, d.CreateChatWithDraft)
	r.Register(protocol.TypeHeartbeat, d.Heartbeat)
}

// replyError sends a private error frame to the originating session only.
func (d *Deps) replyError(hc router.HandlerContext, code protocol.ErrorCode, chatID string, cause error) error {
	frame, err := protocol.Outbound(protocol.TypeError, struct {
		Code    protocol.ErrorCode `json:"code"`
		Message string             `json:"message,omitempty"`
		ChatID  string             `json:"chat_id,omitempty"`
	}{Code: code, Message: cause.Error(), ChatID: chatID})
	if err != nil {
		return err
	}
	return d.Conns.SendToDevice(hc.UserHash, hc.DeviceFP, frame)
}

// classifyError maps a domain error to the outbound error code taxonomy,
// per spec §4.6's failure semantics summary.
func classifyError(err error) protocol.ErrorCode {
	switch {
	case err == domain.ErrNotOwner:
		return protocol.CodeNotOwner
	case err == domain.ErrChatNotFound || err == domain.ErrMessageNotFound:
		return protocol.CodeNotFound
	case err == domain.ErrVersionConflict:
		return protocol.CodeVersionConflict
	case err == domain.ErrProtocol:
		return protocol.CodeProtocolError
	default:
		return protocol.CodeUpstreamFailure
	}
}
