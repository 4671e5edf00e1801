package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/repository"
	"github.com/veilchat/chatsync/internal/version"
)

type fakeRepo struct {
	chats    map[string]*domain.Chat
	messages map[string][]domain.Message

	updateDraftResult version.Result
	updateDraftErr    error
	updateTitleResult version.Result
	updateTitleErr    error
	clearDraftErr     error
	appendErr         error
	deleteErr         error
	createChatID      string
	createErr         error
	delta             repository.DeltaPayload
	deltaErr          error

	appendedMessages []domain.Message
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{chats: map[string]*domain.Chat{}, messages: map[string][]domain.Message{}}
}

func (f *fakeRepo) GetChat(_ context.Context, userHash, chatID string) (*domain.Chat, []domain.Message, error) {
	c, ok := f.chats[chatID]
	if !ok {
		return nil, nil, domain.ErrChatNotFound
	}
	if c.UserHash != userHash {
		return nil, nil, domain.ErrNotOwner
	}
	return c, f.messages[chatID], nil
}

func (f *fakeRepo) CreateChatWithDraft(_ context.Context, userHash, clientChatID string, draft []byte) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	chatID := f.createChatID
	if chatID == "" {
		chatID = domain.ChatID(userHash, clientChatID)
	}
	if _, exists := f.chats[chatID]; !exists {
		f.chats[chatID] = &domain.Chat{ChatID: chatID, UserHash: userHash, EncryptedDraft: draft, DraftV: 1}
	}
	return chatID, nil
}

func (f *fakeRepo) UpdateDraft(context.Context, string, string, int64, []byte) (version.Result, error) {
	return f.updateDraftResult, f.updateDraftErr
}

func (f *fakeRepo) ClearDraft(context.Context, string, string) error { return f.clearDraftErr }

func (f *fakeRepo) UpdateTitle(context.Context, string, string, int64, []byte) (version.Result, error) {
	return f.updateTitleResult, f.updateTitleErr
}

func (f *fakeRepo) AppendMessage(_ context.Context, _, chatID string, msg domain.Message) (string, error) {
	if f.appendErr != nil {
		return "", f.appendErr
	}
	if msg.MessageID == "" {
		msg.MessageID = "m-" + chatID
	}
	f.appendedMessages = append(f.appendedMessages, msg)
	return msg.MessageID, nil
}

func (f *fakeRepo) DeleteChat(context.Context, string, string) error { return f.deleteErr }

func (f *fakeRepo) FetchDelta(context.Context, string, time.Time, map[string]repository.ClientVersions) (repository.DeltaPayload, error) {
	return f.delta, f.deltaErr
}

type sentFrame struct {
	userHash, deviceFP string
	frame              []byte
	broadcast          bool
	except             string
}

type fakeConns struct {
	sent          []sentFrame
	setActiveErr  error
	setActiveCall []string
}

func (f *fakeConns) SendToDevice(userHash, deviceFP string, frame []byte) error {
	f.sent = append(f.sent, sentFrame{userHash: userHash, deviceFP: deviceFP, frame: frame})
	return nil
}

func (f *fakeConns) BroadcastToUser(userHash string, frame []byte, except string) {
	f.sent = append(f.sent, sentFrame{userHash: userHash, frame: frame, broadcast: true, except: except})
}

func (f *fakeConns) SetActiveChat(userHash, deviceFP, chatID string) error {
	f.setActiveCall = append(f.setActiveCall, userHash+"|"+deviceFP+"|"+chatID)
	return f.setActiveErr
}

type fakeProfile struct {
	lastOpened string
	found      bool
	getErr     error
	setCalls   []string
	setErr     error
}

func (f *fakeProfile) GetLastOpenedChat(context.Context, string) (string, bool, error) {
	return f.lastOpened, f.found, f.getErr
}

func (f *fakeProfile) SetLastOpenedChat(_ context.Context, userHash, chatID string) error {
	f.setCalls = append(f.setCalls, userHash+"|"+chatID)
	return f.setErr
}

var errBoom = errors.New("boom")
