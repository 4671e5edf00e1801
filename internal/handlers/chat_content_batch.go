package handlers

import (
	"fmt"

	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
)

// chatContentBatchEntry is one chat's fetch-through result within a
// chat_content_batch reply.
type chatContentBatchEntry struct {
	ChatID   string            `json:"chat_id"`
	Chat     *domain.Chat      `json:"chat,omitempty"`
	Messages []domain.Message  `json:"messages,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ChatContentBatch implements spec §4.6's chat_content_batch: fetch-through
// each requested chat_id and reply with one batched payload, used by the
// client's progressive loading phases.
func (d *Deps) ChatContentBatch(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.ChatContentBatch)
	if !ok {
		return fmt.Errorf("chat_content_batch: unexpected payload type")
	}

	entries := make([]chatContentBatchEntry, 0, len(payload.ChatIDs))
	for _, chatID := range payload.ChatIDs {
		chat, messages, err := d.Repo.GetChat(hc.Ctx, hc.UserHash, chatID)
		if err != nil {
			entries = append(entries, chatContentBatchEntry{ChatID: chatID, Error: err.Error()})
			continue
		}
		entries = append(entries, chatContentBatchEntry{ChatID: chatID, Chat: chat, Messages: messages})
	}

	frame, err := protocol.Outbound(protocol.TypeChatContentBatchResult, struct {
		Entries []chatContentBatchEntry `json:"entries"`
	}{Entries: entries})
	if err != nil {
		return fmt.Errorf("encode chat_content_batch_result: %w", err)
	}
	return d.Conns.SendToDevice(hc.UserHash, hc.DeviceFP, frame)
}
