package repository

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/veilchat/chatsync/internal/domain"
)

func TestWarmView_ExcludesEncryptedFields(t *testing.T) {
	chat := &domain.Chat{
		ChatID:         "c1",
		EncryptedTitle: []byte("secret-title"),
		EncryptedDraft: []byte("secret-draft"),
		TitleV:         2,
	}
	w := warmView(chat)
	assert.Equal(t, "c1", w.ChatID)
	assert.EqualValues(t, 2, w.TitleV)

	raw, err := json.Marshal(w)
	assert.NoError(t, err)
	assert.NotContains(t, string(raw), "encrypted_title")
	assert.NotContains(t, string(raw), "encrypted_draft")
}

func TestComponentDelta_SkipsUnchangedComponents(t *testing.T) {
	r := &ChatRepository{}
	chat := &domain.Chat{ChatID: "c1", TitleV: 5, DraftV: 3, MessagesV: 7}

	delta, err := r.componentDelta(nil, chat, ClientVersions{TitleV: 5, DraftV: 3, MessagesV: 5}, time.Time{})
	assert.NoError(t, err)
	assert.NotNil(t, delta)
	assert.Len(t, delta.Components, 1)
	assert.Equal(t, domain.ComponentMessages, delta.Components[0].Component)
	assert.EqualValues(t, 7, delta.Components[0].Version)
}

func TestComponentDelta_NilWhenFullyCaughtUp(t *testing.T) {
	r := &ChatRepository{}
	chat := &domain.Chat{ChatID: "c1", TitleV: 5, DraftV: 3, MessagesV: 7}

	delta, err := r.componentDelta(nil, chat, ClientVersions{TitleV: 5, DraftV: 3, MessagesV: 7}, time.Time{})
	assert.NoError(t, err)
	assert.Nil(t, delta)
}

func TestComponentDelta_UnknownChatReturnsAllComponents(t *testing.T) {
	r := &ChatRepository{}
	chat := &domain.Chat{ChatID: "c1", TitleV: 1, DraftV: 0, MessagesV: 0}

	delta, err := r.componentDelta(nil, chat, ClientVersions{}, time.Time{})
	assert.NoError(t, err)
	assert.NotNil(t, delta)
	assert.Len(t, delta.Components, 3)
}

func TestHasComponent(t *testing.T) {
	comps := []ComponentVersion{{Component: domain.ComponentTitle}, {Component: domain.ComponentMessages}}
	assert.True(t, hasComponent(comps, domain.ComponentMessages))
	assert.False(t, hasComponent(comps, domain.ComponentDraft))
}

func TestClientVersions_IsZero(t *testing.T) {
	assert.True(t, ClientVersions{}.isZero())
	assert.False(t, ClientVersions{TitleV: 1}.isZero())
}
