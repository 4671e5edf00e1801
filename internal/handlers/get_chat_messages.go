package handlers

import (
	"fmt"

	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
)

// GetChatMessages implements spec §4.6's get_chat_messages: fetch-through
// the Hot cache (ownership implicitly verified by scoping the lookup to
// the requester's user_hash) and reply privately.
func (d *Deps) GetChatMessages(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.ChatRef)
	if !ok {
		return fmt.Errorf("get_chat_messages: unexpected payload type")
	}

	chat, messages, err := d.Repo.GetChat(hc.Ctx, hc.UserHash, payload.ChatID)
	if err != nil {
		return d.replyError(hc, classifyError(err), payload.ChatID, err)
	}

	frame, err := protocol.Outbound(protocol.TypeChatMessages, struct {
		ChatID   string      `json:"chat_id"`
		Chat     interface{} `json:"chat"`
		Messages interface{} `json:"messages"`
	}{ChatID: payload.ChatID, Chat: chat, Messages: messages})
	if err != nil {
		return fmt.Errorf("encode chat_messages: %w", err)
	}
	return d.Conns.SendToDevice(hc.UserHash, hc.DeviceFP, frame)
}
