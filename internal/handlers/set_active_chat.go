package handlers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
)

// SetActiveChat implements spec §4.6's set_active_chat: purely per-device,
// idempotent, no persistence side-effect by default. Per SPEC_FULL.md's
// resolved Open Question #2, it calls user_profile.set_last_opened_chat
// only when PersistLastOpenedOnSetActive is enabled — never otherwise.
func (d *Deps) SetActiveChat(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.SetActiveChat)
	if !ok {
		return fmt.Errorf("set_active_chat: unexpected payload type")
	}

	if err := d.Conns.SetActiveChat(hc.UserHash, hc.DeviceFP, payload.ChatID); err != nil {
		return d.replyError(hc, classifyError(err), payload.ChatID, err)
	}

	if d.PersistLastOpenedOnSetActive && d.Profile != nil && payload.ChatID != "" {
		if err := d.Profile.SetLastOpenedChat(hc.Ctx, hc.UserHash, payload.ChatID); err != nil {
			d.Logger.Warn("set_last_opened_chat failed", zap.Error(err))
		}
	}
	return nil
}
