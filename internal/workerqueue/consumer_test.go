package workerqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/connmgr"
	"github.com/veilchat/chatsync/internal/domain"
)

type fakeAppender struct {
	appended []domain.Message
}

func (f *fakeAppender) AppendMessage(_ context.Context, _, _ string, msg domain.Message) (string, error) {
	f.appended = append(f.appended, msg)
	return domain.NewMessageID(), nil
}

func newTestManager() *connmgr.Manager {
	return connmgr.NewManager(connmgr.Config{ShardCount: 2}, zap.NewNop())
}

func TestHandleStreamChunk_DeliversToActiveDeviceOnly(t *testing.T) {
	conns := newTestManager()
	active := conns.Accept("u1", "dev-active")
	idle := conns.Accept("u1", "dev-idle")
	require.NoError(t, conns.SetActiveChat("u1", "dev-active", "c1"))

	appender := &fakeAppender{}
	c := &Consumer{conns: conns, repo: appender, logger: zap.NewNop()}

	raw, err := json.Marshal(map[string]interface{}{
		"type": "ai_stream_chunk", "user_hash": "u1", "chat_id": "c1", "chunk": "aGk=",
	})
	require.NoError(t, err)

	require.NoError(t, c.handle(context.Background(), raw))

	select {
	case <-active.Outbound():
	case <-time.After(time.Second):
		t.Fatal("active device did not receive stream chunk")
	}

	select {
	case <-idle.Outbound():
		t.Fatal("idle device should not receive stream chunk")
	default:
	}
}

func TestHandleMessageReady_PersistsAndBroadcastsToAllDevices(t *testing.T) {
	conns := newTestManager()
	d1 := conns.Accept("u1", "dev1")
	d2 := conns.Accept("u1", "dev2")

	appender := &fakeAppender{}
	c := &Consumer{conns: conns, repo: appender, logger: zap.NewNop()}

	raw, err := json.Marshal(map[string]interface{}{
		"type": "ai_message_ready", "user_hash": "u1", "chat_id": "c1",
		"encrypted_content": "aGk=", "status": "synced",
	})
	require.NoError(t, err)

	require.NoError(t, c.handle(context.Background(), raw))
	require.Len(t, appender.appended, 1)
	assert.Equal(t, "c1", appender.appended[0].ChatID)

	for _, s := range []*connmgr.Session{d1, d2} {
		select {
		case <-s.Outbound():
		case <-time.After(time.Second):
			t.Fatal("device did not receive ready frame")
		}
	}
}

func TestHandleMessageReady_FailedStatusSkipsPersist(t *testing.T) {
	conns := newTestManager()
	conns.Accept("u1", "dev1")

	appender := &fakeAppender{}
	c := &Consumer{conns: conns, repo: appender, logger: zap.NewNop()}

	raw, err := json.Marshal(map[string]interface{}{
		"type": "ai_message_ready", "user_hash": "u1", "chat_id": "c1", "status": "failed",
	})
	require.NoError(t, err)

	require.NoError(t, c.handle(context.Background(), raw))
	assert.Empty(t, appender.appended)
}

func TestHandle_UnknownTypeErrors(t *testing.T) {
	c := &Consumer{logger: zap.NewNop()}
	err := c.handle(context.Background(), []byte(`{"type":"bogus"}`))
	assert.Error(t, err)
}
