// Package connmgr implements the Connection Manager (C4): the registry of
// live sessions keyed by (user, device), the active-chat-per-device
// tracker, and the fan-out primitives the Message Router and handlers use
// to reach connected devices.
//
// Grounded on the teacher's internal/handlers/chat_handler.go Hub/Client:
// the register/unregister channel-free approach here instead uses
// sharded, mutex-guarded maps (the teacher's single global `mu` would
// serialize every user in one process; spec §5 requires bounding
// contention by sharding), but the per-client `send` buffered channel is
// kept in Session as its outbound queue. The writePump ping ticker lives in
// internal/wsserver and the per-connection limiters in
// router.SessionLimiters.
package connmgr

import (
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/metrics"
)

// FrameKind distinguishes the two deliver_ai_update fan-out rules.
type FrameKind int

const (
	FrameStreamChunk FrameKind = iota
	FrameReady
)

// ErrQueueOverflow is returned (and the session closed) when a session's
// outbound queue is full, per §4.4's backpressure rule.
var ErrQueueOverflow = domain.ErrQueueOverflow

// ErrNoSession is returned when no session exists for the given device.
var ErrNoSession = errors.New("no session for device")

const defaultOutboundQueueSize = 256

// Session is one live (user, device_fp) connection.
type Session struct {
	UserHash string
	DeviceFP string

	outbound chan []byte
	closed   chan struct{}
	closeOne sync.Once

	mu            sync.Mutex
	activeChatID  string
	lastHeartbeat time.Time

	// OnClose, if set, is invoked exactly once when the session closes,
	// so the caller (the WebSocket handler) can tear down the transport.
	OnClose func(reason error)
}

// Outbound returns the channel the write pump drains. Closed when the
// session closes.
func (s *Session) Outbound() <-chan []byte { return s.outbound }

// ActiveChatID returns the chat this device currently has open, or "".
func (s *Session) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChatID
}

func (s *Session) setActiveChatID(chatID string) {
	s.mu.Lock()
	s.activeChatID = chatID
	s.mu.Unlock()
}

// Touch records a heartbeat, resetting the miss counter the sweep uses.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

func (s *Session) heartbeatAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastHeartbeat)
}

// enqueue pushes frame onto the session's bounded outbound queue.
// Non-blocking: on overflow it closes the session with ErrQueueOverflow,
// per §4.4's backpressure contract, and returns that error.
func (s *Session) enqueue(frame []byte) error {
	select {
	case s.outbound <- frame:
		return nil
	case <-s.closed:
		return ErrNoSession
	default:
		s.close(ErrQueueOverflow)
		metrics.QueueOverflows.Inc()
		return ErrQueueOverflow
	}
}

func (s *Session) close(reason error) {
	s.closeOne.Do(func() {
		close(s.closed)
		close(s.outbound)
		if s.OnClose != nil {
			s.OnClose(reason)
		}
	})
}

// Close closes the session from the outside (forced revocation, an older
// session on the same device_fp being replaced, shutdown).
func (s *Session) Close() { s.close(nil) }

type userBucket struct {
	devices map[string]*Session
}

type shard struct {
	mu      sync.RWMutex
	buckets map[string]*userBucket
}

// Manager is the Connection Manager (C4): a fixed number of independently
// locked shards, each holding a subset of users, so no single mutex
// serializes the whole connected population.
type Manager struct {
	shards     []*shard
	shardCount uint32
	logger     *zap.Logger

	heartbeatInterval time.Duration
	missThreshold     int
	outboundQueueCap  int
}

// Config configures the heartbeat sweep and per-session backpressure.
type Config struct {
	ShardCount             int
	HeartbeatInterval      time.Duration
	HeartbeatMissThreshold int
	OutboundQueueCap       int
}

// NewManager builds a Manager with shardCount independent shards.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 16
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatMissThreshold <= 0 {
		cfg.HeartbeatMissThreshold = 3
	}
	if cfg.OutboundQueueCap <= 0 {
		cfg.OutboundQueueCap = defaultOutboundQueueSize
	}

	shards := make([]*shard, cfg.ShardCount)
	for i := range shards {
		shards[i] = &shard{buckets: make(map[string]*userBucket)}
	}
	return &Manager{
		shards:            shards,
		shardCount:        uint32(cfg.ShardCount),
		logger:            logger,
		heartbeatInterval: cfg.HeartbeatInterval,
		missThreshold:     cfg.HeartbeatMissThreshold,
		outboundQueueCap:  cfg.OutboundQueueCap,
	}
}

func (m *Manager) shardFor(userHash string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userHash))
	return m.shards[h.Sum32()%m.shardCount]
}

// Accept registers a new session for (userHash, deviceFP). Per §4.4: if
// the same (user, device_fp) already holds a session, the older one is
// closed first.
func (m *Manager) Accept(userHash, deviceFP string) *Session {
	sh := m.shardFor(userHash)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	bucket, ok := sh.buckets[userHash]
	if !ok {
		bucket = &userBucket{devices: make(map[string]*Session)}
		sh.buckets[userHash] = bucket
	}
	if old, exists := bucket.devices[deviceFP]; exists {
		old.Close()
	}

	session := &Session{
		UserHash:      userHash,
		DeviceFP:      deviceFP,
		outbound:      make(chan []byte, m.outboundQueueCap),
		closed:        make(chan struct{}),
		lastHeartbeat: time.Now(),
	}
	bucket.devices[deviceFP] = session
	return session
}

// Remove unregisters a session, e.g. on disconnect.
func (m *Manager) Remove(userHash, deviceFP string) {
	sh := m.shardFor(userHash)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	bucket, ok := sh.buckets[userHash]
	if !ok {
		return
	}
	if s, exists := bucket.devices[deviceFP]; exists {
		delete(bucket.devices, deviceFP)
		s.close(nil)
	}
	if len(bucket.devices) == 0 {
		delete(sh.buckets, userHash)
	}
}

// SendToDevice enqueues frame on one device's outbound queue.
func (m *Manager) SendToDevice(userHash, deviceFP string, frame []byte) error {
	sh := m.shardFor(userHash)
	sh.mu.RLock()
	var s *Session
	if bucket, ok := sh.buckets[userHash]; ok {
		s = bucket.devices[deviceFP]
	}
	sh.mu.RUnlock()
	if s == nil {
		return ErrNoSession
	}
	return s.enqueue(frame)
}

// BroadcastToUser fans frame out to every session of userHash, optionally
// skipping exceptDeviceFP.
func (m *Manager) BroadcastToUser(userHash string, frame []byte, exceptDeviceFP string) {
	sh := m.shardFor(userHash)
	sh.mu.RLock()
	bucket, ok := sh.buckets[userHash]
	if !ok {
		sh.mu.RUnlock()
		return
	}
	sessions := make([]*Session, 0, len(bucket.devices))
	for fp, s := range bucket.devices {
		if fp == exceptDeviceFP {
			continue
		}
		sessions = append(sessions, s)
	}
	sh.mu.RUnlock()

	for _, s := range sessions {
		if err := s.enqueue(frame); err != nil && m.logger != nil {
			m.logger.Warn("broadcast enqueue failed", zap.String("user_hash", userHash), zap.Error(err))
		}
	}
}

// DeliverAIUpdate implements §4.6's ai_stream_chunk/ai_message_ready
// fan-out rule: stream chunks go only to the device whose active_chat_id
// matches chatID; a ready/terminator frame goes to every session,
// including the active one (as a completion marker) and every inactive
// one (as its sole notification of the new message).
func (m *Manager) DeliverAIUpdate(userHash, chatID string, kind FrameKind, frame []byte) {
	sh := m.shardFor(userHash)
	sh.mu.RLock()
	bucket, ok := sh.buckets[userHash]
	if !ok {
		sh.mu.RUnlock()
		return
	}
	sessions := make([]*Session, 0, len(bucket.devices))
	for _, s := range bucket.devices {
		sessions = append(sessions, s)
	}
	sh.mu.RUnlock()

	kindLabel := "stream_chunk"
	if kind == FrameReady {
		kindLabel = "ready"
	}

	for _, s := range sessions {
		if kind == FrameStreamChunk && s.ActiveChatID() != chatID {
			continue
		}
		if err := s.enqueue(frame); err != nil {
			if m.logger != nil {
				m.logger.Warn("ai update enqueue failed", zap.String("user_hash", userHash), zap.Error(err))
			}
			continue
		}
		metrics.StreamChunksDelivered.WithLabelValues(kindLabel).Inc()
	}
}

// SetActiveChat records which chat a device currently has open. Purely
// per-device, in-memory — per §4.4 it MUST NOT persist any "last opened"
// field as a side effect; that is a separate, explicitly gated behavior
// the handler layer implements (SPEC_FULL.md Open Question #2).
func (m *Manager) SetActiveChat(userHash, deviceFP, chatID string) error {
	sh := m.shardFor(userHash)
	sh.mu.RLock()
	bucket, ok := sh.buckets[userHash]
	if !ok {
		sh.mu.RUnlock()
		return ErrNoSession
	}
	s, exists := bucket.devices[deviceFP]
	sh.mu.RUnlock()
	if !exists {
		return ErrNoSession
	}
	s.setActiveChatID(chatID)
	return nil
}

// SweepHeartbeats closes every session that has missed
// HeartbeatMissThreshold consecutive heartbeat intervals. Invoked
// periodically by a robfig/cron job (see cmd/server), never by the Cache
// Tier — the lazy-expiration cache must not grow a background thread of
// its own.
func (m *Manager) SweepHeartbeats() {
	deadline := time.Duration(m.missThreshold) * m.heartbeatInterval
	for _, sh := range m.shards {
		sh.mu.RLock()
		var stale []*Session
		for _, bucket := range sh.buckets {
			for _, s := range bucket.devices {
				if s.heartbeatAge() > deadline {
					stale = append(stale, s)
				}
			}
		}
		sh.mu.RUnlock()

		for _, s := range stale {
			if m.logger != nil {
				m.logger.Info("closing session on missed heartbeat", zap.String("user_hash", s.UserHash), zap.String("device_fp", s.DeviceFP))
			}
			m.Remove(s.UserHash, s.DeviceFP)
		}
	}
}

// ActiveSessionCount returns the number of live sessions, for metrics.
func (m *Manager) ActiveSessionCount() int {
	total := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, b := range sh.buckets {
			total += len(b.devices)
		}
		sh.mu.RUnlock()
	}
	return total
}

// RefreshShardGauges samples each shard's live session count into
// metrics.ActiveSessions. Intended to be called periodically (e.g. from
// the same robfig/cron job that drives SweepHeartbeats) rather than on
// every Accept/Remove, keeping the connect/disconnect path metrics-free.
func (m *Manager) RefreshShardGauges() {
	for i, sh := range m.shards {
		sh.mu.RLock()
		count := 0
		for _, b := range sh.buckets {
			count += len(b.devices)
		}
		sh.mu.RUnlock()
		metrics.ActiveSessions.WithLabelValues(strconv.Itoa(i)).Set(float64(count))
	}
}
