package handlers

import (
	"fmt"

	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
)

// CreateChatWithDraft implements spec §4.3's create_chat_with_draft:
// mints a chat (cache-only, draft-only-chats-never-persist) and
// acknowledges the originating session with the resolved chat_id.
func (d *Deps) CreateChatWithDraft(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.CreateChatWithDraft)
	if !ok {
		return fmt.Errorf("create_chat_with_draft: unexpected payload type")
	}

	chatID, err := d.Repo.CreateChatWithDraft(hc.Ctx, hc.UserHash, payload.ClientChatID, payload.EncryptedDraft)
	if err != nil {
		return d.replyError(hc, classifyError(err), "", err)
	}

	frame, err := protocol.Outbound(protocol.TypeAck, struct {
		ClientChatID string `json:"client_chat_id"`
		ChatID       string `json:"chat_id"`
	}{ClientChatID: payload.ClientChatID, ChatID: chatID})
	if err != nil {
		return fmt.Errorf("encode ack: %w", err)
	}
	return d.Conns.SendToDevice(hc.UserHash, hc.DeviceFP, frame)
}
