package handlers

import (
	"fmt"

	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/protocol"
	"github.com/veilchat/chatsync/internal/router"
)

// offlineOpResult is one queued operation's outcome, echoed in the
// aggregated offline_sync_result reply.
type offlineOpResult struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	ChatID  string `json:"chat_id,omitempty"`
	Accepted bool  `json:"accepted"`
	Dropped bool   `json:"dropped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// componentKey identifies "the same component of the same chat" for the
// drop-after-reject rule spec §4.6 describes for offline_sync.
func componentKey(frameType, chatID string) string {
	return frameType + "|" + chatID
}

// OfflineSync implements spec §4.6's offline_sync: process queued
// client-originated operations strictly in order, routing each to its
// specific handler, dropping subsequent operations for the same
// component of the same chat once one has been rejected.
func (d *Deps) OfflineSync(hc router.HandlerContext) error {
	payload, ok := hc.Payload.(*protocol.OfflineSync)
	if !ok {
		return fmt.Errorf("offline_sync: unexpected payload type")
	}

	dropped := make(map[string]bool)
	results := make([]offlineOpResult, 0, len(payload.Operations))

	for i, op := range payload.Operations {
		decoded, err := op.Decode()
		if err != nil {
			results = append(results, offlineOpResult{Index: i, Type: op.Type, Error: err.Error()})
			continue
		}

		chatID := extractChatID(decoded)
		key := componentKey(op.Type, chatID)
		if dropped[key] {
			results = append(results, offlineOpResult{Index: i, Type: op.Type, ChatID: chatID, Dropped: true})
			continue
		}

		result := d.applyOfflineOp(hc, op.Type, decoded)
		result.Index = i
		result.Type = op.Type
		result.ChatID = chatID
		if !result.Accepted {
			dropped[key] = true
		}
		results = append(results, result)
	}

	frame, err := protocol.Outbound(protocol.TypeOfflineSyncResult, struct {
		Results []offlineOpResult `json:"results"`
	}{Results: results})
	if err != nil {
		return fmt.Errorf("encode offline_sync_result: %w", err)
	}
	return d.Conns.SendToDevice(hc.UserHash, hc.DeviceFP, frame)
}

// applyOfflineOp dispatches one decoded offline operation to the matching
// specific handler's core logic, without going back through the Router
// (the rate limiter and auth check already cleared the outer offline_sync
// frame; replaying each op through Dispatch would double-count both).
func (d *Deps) applyOfflineOp(hc router.HandlerContext, frameType string, decoded interface{}) offlineOpResult {
	inner := hc
	inner.Payload = decoded

	if frameType == protocol.TypeDraftUpdate || frameType == protocol.TypeTitleUpdate {
		cu, ok := decoded.(*protocol.ComponentUpdate)
		if !ok {
			return offlineOpResult{Error: "malformed component update"}
		}
		component, name := domain.ComponentDraft, "draft"
		if frameType == protocol.TypeTitleUpdate {
			component, name = domain.ComponentTitle, "title"
		}
		result, err := d.updateComponent(inner, component, name, cu)
		if err != nil {
			return offlineOpResult{Error: err.Error()}
		}
		return offlineOpResult{Accepted: result.Accepted}
	}

	var err error
	switch frameType {
	case protocol.TypeDeleteDraft:
		err = d.DeleteDraft(inner)
	case protocol.TypeMessageReceived:
		err = d.MessageReceived(inner)
	case protocol.TypeDeleteChat:
		err = d.DeleteChat(inner)
	case protocol.TypeSetActiveChat:
		err = d.SetActiveChat(inner)
	case protocol.TypeCreateChatDraft:
		err = d.CreateChatWithDraft(inner)
	default:
		return offlineOpResult{Error: fmt.Sprintf("no offline handling for %q", frameType)}
	}
	if err != nil {
		return offlineOpResult{Accepted: false, Error: err.Error()}
	}
	return offlineOpResult{Accepted: true}
}

func extractChatID(payload interface{}) string {
	switch p := payload.(type) {
	case *protocol.ComponentUpdate:
		return p.ChatID
	case *protocol.ChatRef:
		return p.ChatID
	case *protocol.MessageReceived:
		if p.ChatID != "" {
			return p.ChatID
		}
		return p.ClientChatID
	case *protocol.SetActiveChat:
		return p.ChatID
	case *protocol.CreateChatWithDraft:
		return p.ClientChatID
	default:
		return ""
	}
}
