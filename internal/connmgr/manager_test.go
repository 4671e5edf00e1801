package connmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager() *Manager {
	return NewManager(Config{ShardCount: 4, HeartbeatInterval: time.Hour, HeartbeatMissThreshold: 3}, zap.NewNop())
}

func TestAccept_ReplacesOlderSessionOnSameDevice(t *testing.T) {
	m := newTestManager()
	first := m.Accept("user1", "device1")
	closed := make(chan struct{})
	first.OnClose = func(error) { close(closed) }

	m.Accept("user1", "device1")

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("replacing a session on the same device_fp must close the older one")
	}
}

func TestSendToDevice_DeliversToCorrectSession(t *testing.T) {
	m := newTestManager()
	s := m.Accept("user1", "device1")

	require.NoError(t, m.SendToDevice("user1", "device1", []byte("hello")))
	select {
	case frame := <-s.Outbound():
		assert.Equal(t, "hello", string(frame))
	case <-time.After(time.Second):
		t.Fatal("frame was not delivered")
	}
}

func TestSendToDevice_UnknownSessionReturnsError(t *testing.T) {
	m := newTestManager()
	err := m.SendToDevice("ghost-user", "device1", []byte("x"))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestBroadcastToUser_ExcludesGivenDevice(t *testing.T) {
	m := newTestManager()
	s1 := m.Accept("user1", "device1")
	s2 := m.Accept("user1", "device2")

	m.BroadcastToUser("user1", []byte("update"), "device2")

	select {
	case <-s1.Outbound():
	case <-time.After(time.Second):
		t.Fatal("device1 should have received the broadcast")
	}
	select {
	case _, ok := <-s2.Outbound():
		if ok {
			t.Fatal("device2 was excluded and should not receive the broadcast")
		}
	case <-time.After(50 * time.Millisecond):
		// no frame arrived within the window — expected.
	}
}

func TestDeliverAIUpdate_StreamChunkOnlyToActiveDevice(t *testing.T) {
	m := newTestManager()
	active := m.Accept("user1", "device1")
	inactive := m.Accept("user1", "device2")
	require.NoError(t, m.SetActiveChat("user1", "device1", "chat1"))

	m.DeliverAIUpdate("user1", "chat1", FrameStreamChunk, []byte("chunk"))

	select {
	case <-active.Outbound():
	case <-time.After(time.Second):
		t.Fatal("active device should receive the stream chunk")
	}
	select {
	case <-inactive.Outbound():
		t.Fatal("inactive device must not receive stream chunks")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeliverAIUpdate_ReadyFansOutToEverySession(t *testing.T) {
	m := newTestManager()
	active := m.Accept("user1", "device1")
	inactive := m.Accept("user1", "device2")
	require.NoError(t, m.SetActiveChat("user1", "device1", "chat1"))

	m.DeliverAIUpdate("user1", "chat1", FrameReady, []byte("ready"))

	for _, s := range []*Session{active, inactive} {
		select {
		case <-s.Outbound():
		case <-time.After(time.Second):
			t.Fatal("ready frame must reach every session, active and inactive alike")
		}
	}
}

func TestSession_OverflowClosesSessionAndReturnsError(t *testing.T) {
	m := newTestManager()
	s := m.Accept("user1", "device1")

	var lastErr error
	for i := 0; i < defaultOutboundQueueSize+1; i++ {
		lastErr = m.SendToDevice("user1", "device1", []byte("x"))
	}
	assert.ErrorIs(t, lastErr, ErrQueueOverflow)

	select {
	case _, ok := <-s.closed:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("overflowing session should have closed")
	}
}

func TestSweepHeartbeats_ClosesStaleSessions(t *testing.T) {
	m := NewManager(Config{ShardCount: 2, HeartbeatInterval: time.Millisecond, HeartbeatMissThreshold: 1}, zap.NewNop())
	s := m.Accept("user1", "device1")
	s.mu.Lock()
	s.lastHeartbeat = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	m.SweepHeartbeats()
	assert.Equal(t, 0, m.ActiveSessionCount())
}
