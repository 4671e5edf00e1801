package handlers

import (
	"fmt"

	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
)

// DeleteChat implements spec §4.6's delete_chat: authorize implicitly via
// user_hash scoping in the Repository's delete query, then broadcast
// chat_deleted to every session of the user.
func (d *Deps) DeleteChat(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.ChatRef)
	if !ok {
		return fmt.Errorf("delete_chat: unexpected payload type")
	}

	if err := d.Repo.DeleteChat(hc.Ctx, hc.UserHash, payload.ChatID); err != nil {
		return d.replyError(hc, classifyError(err), payload.ChatID, err)
	}

	frame, err := protocol.Outbound(protocol.TypeChatDeleted, struct {
		ChatID string `json:"chat_id"`
	}{ChatID: payload.ChatID})
	if err != nil {
		return fmt.Errorf("encode chat_deleted: %w", err)
	}
	d.Conns.BroadcastToUser(hc.UserHash, frame, "")
	return nil
}
