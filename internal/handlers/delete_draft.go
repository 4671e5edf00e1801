package handlers

import (
	"fmt"

	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
)

// DeleteDraft implements spec §4.6's delete_draft: clear the draft via
// the Repository and broadcast draft_cleared (new draft_v = 0) to every
// session of the user.
func (d *Deps) DeleteDraft(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.ChatRef)
	if !ok {
		return fmt.Errorf("delete_draft: unexpected payload type")
	}

	if err := d.Repo.ClearDraft(hc.Ctx, hc.UserHash, payload.ChatID); err != nil {
		return d.replyError(hc, classifyError(err), payload.ChatID, err)
	}

	frame, err := protocol.Outbound(protocol.TypeDraftCleared, struct {
		ChatID string `json:"chat_id"`
		DraftV int64  `json:"draft_v"`
	}{ChatID: payload.ChatID, DraftV: 0})
	if err != nil {
		return fmt.Errorf("encode draft_cleared: %w", err)
	}
	d.Conns.BroadcastToUser(hc.UserHash, frame, "")
	return nil
}
