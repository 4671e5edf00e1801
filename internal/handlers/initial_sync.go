package handlers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/repository"
	"github.com/veilchat/chatsync/internal/router"
)

// InitialSync implements spec §4.6's initial_sync algorithm: resolve and
// emit the active_chat_load frame first, then compute and emit the delta.
func (d *Deps) InitialSync(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.InitialSync)
	if !ok {
		return fmt.Errorf("initial_sync: unexpected payload type")
	}

	if d.Profile != nil {
		chatID, found, err := d.Profile.GetLastOpenedChat(hc.Ctx, hc.UserHash)
		if err != nil {
			d.Logger.Warn("get_last_opened_chat failed, continuing without active_chat_load", zap.Error(err))
		} else if found {
			chat, messages, err := d.Repo.GetChat(hc.Ctx, hc.UserHash, chatID)
			if err == nil {
				frame, err := protocol.Outbound(protocol.TypeActiveChatLoad, struct {
					Chat     interface{} `json:"chat"`
					Messages interface{} `json:"messages"`
				}{Chat: chat, Messages: messages})
				if err != nil {
					return fmt.Errorf("encode active_chat_load: %w", err)
				}
				// active_chat_load MUST precede the delta, per §4.3 step 1.
				if err := d.Conns.SendToDevice(hc.UserHash, hc.DeviceFP, frame); err != nil {
					d.Logger.Warn("failed to send active_chat_load", zap.Error(err))
				}
			}
		}
	}

	known := make(map[string]repository.ClientVersions, len(payload.KnownVersions))
	for chatID, kv := range payload.KnownVersions {
		known[chatID] = repository.ClientVersions{TitleV: kv.TitleV, DraftV: kv.DraftV, MessagesV: kv.MessagesV}
	}

	delta, err := d.Repo.FetchDelta(hc.Ctx, hc.UserHash, payload.LastSyncTS, known)
	if err != nil {
		return d.replyError(hc, protocol.CodeUpstreamFailure, "", fmt.Errorf("fetch delta: %w", err))
	}

	frame, err := protocol.Outbound(protocol.TypeDeltaSyncData, struct {
		UpdatedChats    interface{} `json:"updated_chats"`
		UpdatedMessages interface{} `json:"updated_messages"`
		Deletions       interface{} `json:"deletions"`
		ServerTimestamp interface{} `json:"server_timestamp"`
	}{
		UpdatedChats:    delta.UpdatedChats,
		UpdatedMessages: delta.UpdatedMessages,
		Deletions:       delta.Deletions,
		ServerTimestamp: delta.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("encode delta_sync_data: %w", err)
	}
	return d.Conns.SendToDevice(hc.UserHash, hc.DeviceFP, frame)
}
