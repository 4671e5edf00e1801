package handlers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/metrics"
	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
	"github.com/veilchat/chatsync/internal/version"
)

// DraftUpdate implements spec §4.6's draft_update: delegate to the
// Repository; on accept, broadcast draft_updated to every session
// (including the originator, so clients converge); on reject, reply
// privately with draft_conflict. A version conflict is non-fatal per the
// §4.6 failure semantics summary, so this never returns an error for that
// case — only for a hard failure (not-owner, upstream failure).
func (d *Deps) DraftUpdate(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.ComponentUpdate)
	if !ok {
		return fmt.Errorf("draft_update: unexpected payload type")
	}
	_, err := d.updateComponent(hc, domain.ComponentDraft, "draft", payload)
	return err
}

// TitleUpdate implements spec §4.6's title_update, the title-component
// twin of DraftUpdate.
func (d *Deps) TitleUpdate(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.ComponentUpdate)
	if !ok {
		return fmt.Errorf("title_update: unexpected payload type")
	}
	_, err := d.updateComponent(hc, domain.ComponentTitle, "title", payload)
	return err
}

// updateComponent is the shared core both the standalone handlers and
// offline_sync's replay use; its returned version.Result lets
// offline_sync distinguish accept/reject without treating a conflict as
// an error.
func (d *Deps) updateComponent(hc router.HandlerContext, component domain.Component, name string, payload *protocol.ComponentUpdate) (version.Result, error) {
	var result version.Result
	var err error
	switch component {
	case domain.ComponentDraft:
		result, err = d.Repo.UpdateDraft(hc.Ctx, hc.UserHash, payload.ChatID, payload.BasedOnVersion, payload.EncryptedContent)
	case domain.ComponentTitle:
		result, err = d.Repo.UpdateTitle(hc.Ctx, hc.UserHash, payload.ChatID, payload.BasedOnVersion, payload.EncryptedContent)
	}
	if err != nil {
		return version.Result{}, d.replyError(hc, classifyError(err), payload.ChatID, err)
	}

	if result.Accepted {
		frame, ferr := protocol.Outbound(fmt.Sprintf("%s_updated", name), protocol.ComponentUpdatedFrame{
			ChatID: payload.ChatID, NewVersion: result.NewVersion, Content: payload.EncryptedContent,
		})
		if ferr != nil {
			return result, fmt.Errorf("encode %s_updated: %w", name, ferr)
		}
		d.Conns.BroadcastToUser(hc.UserHash, frame, "")
		return result, nil
	}

	metrics.VersionConflicts.WithLabelValues(name).Inc()
	frame, ferr := protocol.Outbound(fmt.Sprintf("%s_conflict", name), protocol.ComponentConflictFrame{
		ChatID: payload.ChatID, CurrentVersion: result.CurrentVersion,
	})
	if ferr != nil {
		return result, fmt.Errorf("encode %s_conflict: %w", name, ferr)
	}
	if serr := d.Conns.SendToDevice(hc.UserHash, hc.DeviceFP, frame); serr != nil {
		d.Logger.Warn(name+"_conflict delivery failed", zap.Error(serr))
	}
	return result, nil
}
