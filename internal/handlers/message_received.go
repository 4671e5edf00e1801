package handlers

import (
	"fmt"

	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
)

// MessageReceived implements spec §4.6's message_received: create the
// chat if this is its first message, append the user message as synced,
// broadcast message_new to every session, and hand the message off to the
// Worker Queue for assistant preprocessing. The assistant's eventual
// response arrives later via the internal ai_stream_chunk/ai_message_ready
// ingress path, not through this handler.
func (d *Deps) MessageReceived(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.MessageReceived)
	if !ok {
		return fmt.Errorf("message_received: unexpected payload type")
	}

	chatID := payload.ChatID
	if chatID == "" {
		var err error
		chatID, err = d.Repo.CreateChatWithDraft(hc.Ctx, hc.UserHash, payload.ClientChatID, nil)
		if err != nil {
			return d.replyError(hc, classifyError(err), "", fmt.Errorf("create chat for message: %w", err))
		}
	}

	msg := domain.Message{
		ChatID:           chatID,
		SenderName:       payload.SenderName,
		EncryptedContent: payload.EncryptedContent,
		Status:           domain.StatusSynced,
	}
	messageID, err := d.Repo.AppendMessage(hc.Ctx, hc.UserHash, chatID, msg)
	if err != nil {
		return d.replyError(hc, classifyError(err), chatID, err)
	}
	msg.MessageID = messageID

	frame, err := protocol.Outbound(protocol.TypeMessageNew, struct {
		ChatID    string `json:"chat_id"`
		MessageID string `json:"message_id"`
		Content   []byte `json:"content"`
		SenderName string `json:"sender_name"`
	}{ChatID: chatID, MessageID: messageID, Content: payload.EncryptedContent, SenderName: payload.SenderName})
	if err != nil {
		return fmt.Errorf("encode message_new: %w", err)
	}
	d.Conns.BroadcastToUser(hc.UserHash, frame, "")
	return nil
}
