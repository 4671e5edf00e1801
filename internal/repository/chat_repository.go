// Package repository implements the Chat Repository (C3): the single
// writer of chat/message state, serializing per-chat mutations, routing
// version bumps through the Version Arbiter, and keeping the Cache Tier
// write-through consistent with the Document Store.
//
// Adapted from the teacher's internal/repository/chat_repository.go
// ChatRepository: the prepared-statement map, connection pool tuning and
// transaction-wrapped message insert are kept; its ad-hoc Redis caching is
// replaced by internal/cache.Manager, its single conversation-version field
// is generalized to three independently versioned components routed
// through internal/version.Arbiter, and its fire-and-forget `go
// publishEvent` is replaced by a synchronous (but best-effort) enqueue to
// the preprocessing queue.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/cache"
	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/retryutil"
	"github.com/veilchat/chatsync/internal/version"
)

// SecretStore is the subset of the Secret Store collaborator the
// repository needs: minting an opaque per-chat key handle on creation.
type SecretStore interface {
	CreateKey(ctx context.Context, chatID string) (vaultKeyRef string, err error)
}

// PreprocessQueue is the outbound side of the Worker Queue (C6): handing
// a newly completed message off for asynchronous assistant processing.
type PreprocessQueue interface {
	EnqueuePreprocess(ctx context.Context, chatID, userHash, messageID string) error
}

// hotEntry is what the Hot tier stores: the chat plus its full message
// history, so a cache hit never needs a second round trip for messages.
type hotEntry struct {
	Chat     *domain.Chat    `json:"chat"`
	Messages []domain.Message `json:"messages"`
}

// warmEntry is what the Warm tier stores: metadata only. Per design
// decision (SPEC_FULL.md Open Question #1) it excludes encrypted_title
// and encrypted_draft — Warm exists for delta-sync bookkeeping
// (versions, timestamps), not for rendering a chat.
type warmEntry struct {
	ChatID                     string     `json:"chat_id"`
	UserHash                   string     `json:"user_hash"`
	TitleV                     int64      `json:"title_v"`
	DraftV                     int64      `json:"draft_v"`
	MessagesV                  int64      `json:"messages_v"`
	CreatedAt                  time.Time  `json:"created_at"`
	UpdatedAt                  time.Time  `json:"updated_at"`
	LastMessageTimestamp       *time.Time `json:"last_message_timestamp,omitempty"`
	LastEditedOverallTimestamp time.Time  `json:"last_edited_overall_timestamp"`
	Persisted                  bool       `json:"persisted"`
}

func warmView(c *domain.Chat) warmEntry {
	return warmEntry{
		ChatID:                     c.ChatID,
		UserHash:                   c.UserHash,
		TitleV:                     c.TitleV,
		DraftV:                     c.DraftV,
		MessagesV:                  c.MessagesV,
		CreatedAt:                  c.CreatedAt,
		UpdatedAt:                  c.UpdatedAt,
		LastMessageTimestamp:       c.LastMessageTimestamp,
		LastEditedOverallTimestamp: c.LastEditedOverallTimestamp,
		Persisted:                  c.Persisted,
	}
}

// ChatRepository is the Chat Repository (C3).
type ChatRepository struct {
	db      *sql.DB
	cache   *cache.Manager
	secrets SecretStore
	queue   PreprocessQueue
	logger  *zap.Logger

	stmts map[string]*sql.Stmt

	// chatLocks serializes mutations per chat_id, the "upstream
	// serialization" the Version Arbiter's contract assumes.
	locksMu   sync.Mutex
	chatLocks map[string]*sync.Mutex
}

// NewChatRepository builds a ChatRepository over an already-open *sql.DB,
// preparing the statements it uses on the hot path.
func NewChatRepository(db *sql.DB, cacheMgr *cache.Manager, secrets SecretStore, queue PreprocessQueue, logger *zap.Logger) (*ChatRepository, error) {
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(15 * time.Minute)

	r := &ChatRepository{
		db:        db,
		cache:     cacheMgr,
		secrets:   secrets,
		queue:     queue,
		logger:    logger,
		stmts:     make(map[string]*sql.Stmt),
		chatLocks: make(map[string]*sync.Mutex),
	}

	if err := r.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return r, nil
}

func (r *ChatRepository) prepareStatements() error {
	statements := map[string]string{
		"getChat": `
			SELECT chat_id, user_hash, vault_key_ref, encrypted_title, encrypted_draft,
			       title_v, draft_v, messages_v, created_at, updated_at,
			       last_message_timestamp, last_edited_overall_timestamp
			FROM chats WHERE chat_id = $1 AND user_hash = $2
		`,
		"upsertChat": `
			INSERT INTO chats (
				chat_id, user_hash, vault_key_ref, encrypted_title, encrypted_draft,
				title_v, draft_v, messages_v, created_at, updated_at,
				last_message_timestamp, last_edited_overall_timestamp
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (chat_id) DO UPDATE SET
				encrypted_title = EXCLUDED.encrypted_title,
				title_v = EXCLUDED.title_v,
				messages_v = EXCLUDED.messages_v,
				updated_at = EXCLUDED.updated_at,
				last_message_timestamp = EXCLUDED.last_message_timestamp,
				last_edited_overall_timestamp = EXCLUDED.last_edited_overall_timestamp
		`,
		"insertMessage": `
			INSERT INTO messages (message_id, chat_id, encrypted_content, sender_name, created_at, status)
			VALUES ($1,$2,$3,$4,$5,$6)
		`,
		"deleteMessages": `DELETE FROM messages WHERE chat_id = $1 AND chat_id IN (SELECT chat_id FROM chats WHERE chat_id = $1 AND user_hash = $2)`,
		"deleteChat":      `DELETE FROM chats WHERE chat_id = $1 AND user_hash = $2`,
		"rangeChats": `
			SELECT chat_id, user_hash, vault_key_ref, encrypted_title, encrypted_draft,
			       title_v, draft_v, messages_v, created_at, updated_at,
			       last_message_timestamp, last_edited_overall_timestamp
			FROM chats WHERE user_hash = $1 AND updated_at > $2
		`,
		"rangeMessages": `
			SELECT message_id, chat_id, encrypted_content, sender_name, created_at, status
			FROM messages WHERE chat_id = $1 AND created_at > $2 ORDER BY created_at ASC
		`,
		"allMessages": `
			SELECT message_id, chat_id, encrypted_content, sender_name, created_at, status
			FROM messages WHERE chat_id = $1 ORDER BY created_at ASC
		`,
		"chatExists": `SELECT 1 FROM chats WHERE chat_id = $1`,
	}
	for name, query := range statements {
		stmt, err := r.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", name, err)
		}
		r.stmts[name] = stmt
	}
	return nil
}

func (r *ChatRepository) stmt(name string) *sql.Stmt { return r.stmts[name] }

// lockFor returns the per-chat mutex, creating it on first use. This is the
// "writes to the same chat are serialized upstream" guarantee the Version
// Arbiter's CheckAndBump relies on.
func (r *ChatRepository) lockFor(chatID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		r.chatLocks[chatID] = l
	}
	return l
}

// --- version.Store implementation -----------------------------------------
//
// The arbiter never talks to Postgres or Redis directly; it reads and
// writes through whatever *domain.Chat the repository method currently has
// loaded via chatVersionStore, a closure over the in-flight mutation.

type chatVersionStore struct {
	repo     *ChatRepository
	chat     *domain.Chat
	messages []domain.Message
}

func (s *chatVersionStore) CurrentVersion(_ context.Context, _ string, component domain.Component) (int64, error) {
	return s.chat.VersionOf(component), nil
}

func (s *chatVersionStore) CommitBump(ctx context.Context, _ string, component domain.Component, newVersion int64, payload []byte) error {
	switch component {
	case domain.ComponentTitle:
		s.chat.EncryptedTitle = payload
	case domain.ComponentDraft:
		s.chat.EncryptedDraft = payload
	}
	s.chat.SetVersion(component, newVersion)

	now := time.Now()
	s.chat.UpdatedAt = now
	// clear_draft bypasses the arbiter entirely (see ClearDraft) so every
	// path reaching here is a real edit and bumps last_edited_overall.
	s.chat.LastEditedOverallTimestamp = now

	// Draft never reaches the Document Store, per §4.3: update_draft
	// "NOT persisted to Document Store" — only title/messages are, and
	// only once the chat has a first synced message.
	if component != domain.ComponentDraft && s.chat.Persisted {
		if err := s.repo.upsertChatRow(ctx, s.chat); err != nil {
			return err
		}
	}
	return s.repo.cachePut(ctx, s.chat, s.messages)
}

func (r *ChatRepository) cachePut(ctx context.Context, chat *domain.Chat, messages []domain.Message) error {
	if err := r.cache.Put(ctx, cache.Hot, chat.UserHash, chat.ChatID, hotEntry{Chat: chat, Messages: messages}); err != nil {
		return fmt.Errorf("cache hot put: %w", err)
	}
	if err := r.cache.Put(ctx, cache.Warm, chat.UserHash, chat.ChatID, warmView(chat)); err != nil {
		return fmt.Errorf("cache warm put: %w", err)
	}
	return nil
}

// --- row marshaling ---------------------------------------------------------

func (r *ChatRepository) scanChatRow(row rowScanner) (*domain.Chat, error) {
	var c domain.Chat
	var title, draft []byte
	var lastMsg sql.NullTime
	if err := row.Scan(&c.ChatID, &c.UserHash, &c.VaultKeyRef, &title, &draft,
		&c.TitleV, &c.DraftV, &c.MessagesV, &c.CreatedAt, &c.UpdatedAt,
		&lastMsg, &c.LastEditedOverallTimestamp); err != nil {
		return nil, err
	}
	c.EncryptedTitle = title
	c.EncryptedDraft = draft
	c.Persisted = true
	if lastMsg.Valid {
		t := lastMsg.Time
		c.LastMessageTimestamp = &t
	}
	return &c, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *ChatRepository) upsertChatRow(ctx context.Context, c *domain.Chat) error {
	err := retryutil.Do(ctx, retryutil.DefaultConfig(), func() error {
		// encrypted_draft is written as NULL: draft content stays in the
		// Hot cache only.
		_, err := r.stmt("upsertChat").ExecContext(ctx,
			c.ChatID, c.UserHash, c.VaultKeyRef, c.EncryptedTitle, nil,
			c.TitleV, c.DraftV, c.MessagesV, c.CreatedAt, c.UpdatedAt,
			c.LastMessageTimestamp, c.LastEditedOverallTimestamp)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

func (r *ChatRepository) scanMessageRow(row rowScanner) (domain.Message, error) {
	var m domain.Message
	if err := row.Scan(&m.MessageID, &m.ChatID, &m.EncryptedContent, &m.SenderName, &m.CreatedAt, &m.Status); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// --- fetch-through --------------------------------------------------------

// GetChat loads a chat and its messages, preferring the Hot cache and
// falling back to the Document Store on miss, with SETNX-based stampede
// protection so a cold chat with many concurrent readers triggers one
// Postgres load, not one per reader.
func (r *ChatRepository) GetChat(ctx context.Context, userHash, chatID string) (*domain.Chat, []domain.Message, error) {
	var entry hotEntry
	if err := r.cache.Get(ctx, cache.Hot, userHash, chatID, &entry); err == nil {
		return entry.Chat, entry.Messages, nil
	} else if err != cache.ErrCacheMiss {
		r.logger.Warn("hot cache get failed, falling through to store", zap.Error(err))
	}

	lockKey := "hot:" + chatID
	locked, err := r.cache.Lock(ctx, lockKey)
	if err == nil && locked {
		defer r.cache.Unlock(ctx, lockKey)
	} else if err == nil && !locked {
		time.Sleep(50 * time.Millisecond)
		if err := r.cache.Get(ctx, cache.Hot, userHash, chatID, &entry); err == nil {
			return entry.Chat, entry.Messages, nil
		}
	}

	row := r.stmt("getChat").QueryRowContext(ctx, chatID, userHash)
	chat, err := r.scanChatRow(row)
	if err == sql.ErrNoRows {
		return nil, nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get chat: %w", err)
	}

	messages, err := r.loadAllMessages(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}

	if err := r.cachePut(ctx, chat, messages); err != nil {
		r.logger.Warn("failed to warm cache after store load", zap.Error(err))
	}
	return chat, messages, nil
}

func (r *ChatRepository) loadAllMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := r.stmt("allMessages").QueryContext(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := r.scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- mutations -------------------------------------------------------------

// CreateChatWithDraft mints a chat_id deterministically and stores the
// initial draft, cache-only, mirroring §4.3: create_chat_with_draft.
// Idempotent: replaying the same (user_hash, client_chat_id) returns the
// existing chat_id rather than resetting the draft.
func (r *ChatRepository) CreateChatWithDraft(ctx context.Context, userHash, clientChatID string, encryptedDraft []byte) (string, error) {
	chatID := domain.ChatID(userHash, clientChatID)
	lock := r.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	if _, _, err := r.GetChat(ctx, userHash, chatID); err == nil {
		return chatID, nil
	} else if err != domain.ErrChatNotFound {
		return "", err
	}

	vaultKeyRef, err := r.secrets.CreateKey(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("create vault key: %w", err)
	}

	now := time.Now()
	chat := &domain.Chat{
		ChatID:                     chatID,
		UserHash:                   userHash,
		VaultKeyRef:                vaultKeyRef,
		EncryptedDraft:             encryptedDraft,
		DraftV:                     1,
		CreatedAt:                 now,
		UpdatedAt:                 now,
		LastEditedOverallTimestamp: now,
		Persisted:                  false,
	}
	if err := r.cachePut(ctx, chat, nil); err != nil {
		return "", err
	}
	return chatID, nil
}

// UpdateDraft performs the optimistic draft edit described in §4.3:
// update_draft, routed through the Version Arbiter on the draft
// component.
func (r *ChatRepository) UpdateDraft(ctx context.Context, userHash, chatID string, basedOnVersion int64, encryptedDraft []byte) (version.Result, error) {
	lock := r.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, messages, err := r.GetChat(ctx, userHash, chatID)
	if err != nil {
		return version.Result{}, err
	}
	if chat.UserHash != userHash {
		return version.Result{}, domain.ErrNotOwner
	}

	store := &chatVersionStore{repo: r, chat: chat, messages: messages}
	return version.New(store).CheckAndBump(ctx, chatID, domain.ComponentDraft, basedOnVersion, encryptedDraft)
}

// ClearDraft unconditionally resets the draft, per §4.3: clear_draft —
// no based_on_version, never conflicts, and explicitly does not bump
// last_edited_overall_timestamp.
func (r *ChatRepository) ClearDraft(ctx context.Context, userHash, chatID string) error {
	lock := r.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, messages, err := r.GetChat(ctx, userHash, chatID)
	if err != nil {
		return err
	}
	if chat.UserHash != userHash {
		return domain.ErrNotOwner
	}

	chat.EncryptedDraft = nil
	chat.DraftV = 0
	chat.UpdatedAt = time.Now()
	return r.cachePut(ctx, chat, messages)
}

// UpdateTitle performs the optimistic title edit described in §4.3:
// update_title, routed through the Version Arbiter on the title
// component. Persists to the Document Store only once the chat has at
// least one synced message.
func (r *ChatRepository) UpdateTitle(ctx context.Context, userHash, chatID string, basedOnVersion int64, encryptedTitle []byte) (version.Result, error) {
	lock := r.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, messages, err := r.GetChat(ctx, userHash, chatID)
	if err != nil {
		return version.Result{}, err
	}
	if chat.UserHash != userHash {
		return version.Result{}, domain.ErrNotOwner
	}

	store := &chatVersionStore{repo: r, chat: chat, messages: messages}
	return version.New(store).CheckAndBump(ctx, chatID, domain.ComponentTitle, basedOnVersion, encryptedTitle)
}

// AppendMessage appends a message and bumps messages_v, per §4.3:
// message_received. Unlike title/draft there is no client-supplied
// based_on_version — the server is the sole author of message ordering —
// so the bump is unconditional once the per-chat lock is held. On the
// first message to reach a terminal synced state the chat transitions
// from cache-only to persisted and is written through to the Document
// Store; the message is then handed to the Worker Queue for assistant
// preprocessing.
func (r *ChatRepository) AppendMessage(ctx context.Context, userHash, chatID string, msg domain.Message) (string, error) {
	lock := r.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, messages, err := r.GetChat(ctx, userHash, chatID)
	if err != nil {
		return "", err
	}
	if chat.UserHash != userHash {
		return "", domain.ErrNotOwner
	}

	if msg.MessageID == "" {
		msg.MessageID = domain.NewMessageID()
	}
	msg.ChatID = chatID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	chat.MessagesV++
	chat.LastMessageTimestamp = &msg.CreatedAt
	chat.LastEditedOverallTimestamp = time.Now()
	chat.UpdatedAt = time.Now()
	messages = append(messages, msg)

	if msg.Status == domain.StatusSynced {
		wasPersisted := chat.Persisted
		chat.Persisted = true
		if err := r.upsertChatRow(ctx, chat); err != nil {
			chat.Persisted = wasPersisted
			chat.MessagesV--
			return "", fmt.Errorf("upsert chat on message append: %w", err)
		}
		err := retryutil.Do(ctx, retryutil.DefaultConfig(), func() error {
			_, err := r.stmt("insertMessage").ExecContext(ctx,
				msg.MessageID, msg.ChatID, msg.EncryptedContent, msg.SenderName, msg.CreatedAt, msg.Status)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("insert message: %w", err)
		}
		if r.queue != nil {
			if err := r.queue.EnqueuePreprocess(ctx, chatID, userHash, msg.MessageID); err != nil {
				r.logger.Warn("failed to enqueue message for preprocessing", zap.String("chat_id", chatID), zap.Error(err))
			}
		}
	}

	if err := r.cachePut(ctx, chat, messages); err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

// DeleteChat removes a chat and its messages from both the cache tiers
// and the Document Store. Idempotent.
func (r *ChatRepository) DeleteChat(ctx context.Context, userHash, chatID string) error {
	lock := r.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := r.stmt("deleteMessages").ExecContext(ctx, chatID, userHash); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := r.stmt("deleteChat").ExecContext(ctx, chatID, userHash); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if err := r.cache.Evict(ctx, cache.Hot, userHash, chatID); err != nil {
		r.logger.Warn("hot cache evict failed", zap.Error(err))
	}
	if err := r.cache.Evict(ctx, cache.Warm, userHash, chatID); err != nil {
		r.logger.Warn("warm cache evict failed", zap.Error(err))
	}
	return nil
}

// --- delta sync --------------------------------------------------------

// ComponentVersion is one out-of-date component surfaced by FetchDelta.
type ComponentVersion struct {
	Component domain.Component `json:"component"`
	Version   int64            `json:"version"`
	Payload   []byte           `json:"payload,omitempty"`
}

// ChatDelta is a single chat's out-of-date components.
type ChatDelta struct {
	ChatID     string             `json:"chat_id"`
	Components []ComponentVersion `json:"components"`
}

// ClientVersions is what the client already believes it has for one chat.
type ClientVersions struct {
	TitleV    int64
	DraftV    int64
	MessagesV int64
}

// DeltaPayload is the result of FetchDelta, handed directly to the
// initial_sync/fetch_delta response frame.
type DeltaPayload struct {
	UpdatedChats    []ChatDelta
	UpdatedMessages []domain.Message
	Deletions       []string
	ServerTimestamp time.Time
}

// FetchDelta implements §4.6's initial_sync/fetch_delta core: a single
// ranged query over the Document Store for chats updated since lastSync,
// merged with any Warm-cache-only (not-yet-persisted, draft-only) chats,
// restricted per chat to only the components whose version has advanced
// past what the client already knows.
func (r *ChatRepository) FetchDelta(ctx context.Context, userHash string, lastSync time.Time, known map[string]ClientVersions) (DeltaPayload, error) {
	serverTimestamp := time.Now()
	seen := make(map[string]bool, len(known))
	var updatedChats []ChatDelta
	var updatedMessages []domain.Message

	rows, err := r.stmt("rangeChats").QueryContext(ctx, userHash, lastSync)
	if err != nil {
		return DeltaPayload{}, fmt.Errorf("range chats: %w", err)
	}
	var storeChats []*domain.Chat
	for rows.Next() {
		c, err := r.scanChatRow(rows)
		if err != nil {
			rows.Close()
			return DeltaPayload{}, fmt.Errorf("scan ranged chat: %w", err)
		}
		storeChats = append(storeChats, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return DeltaPayload{}, err
	}

	for _, c := range storeChats {
		seen[c.ChatID] = true
		delta, err := r.componentDelta(ctx, c, known[c.ChatID], lastSync)
		if err != nil {
			return DeltaPayload{}, err
		}
		if delta == nil {
			continue
		}
		updatedChats = append(updatedChats, *delta)
		if hasComponent(delta.Components, domain.ComponentMessages) {
			msgs, err := r.rangedMessages(ctx, c.ChatID, lastSync)
			if err != nil {
				return DeltaPayload{}, err
			}
			updatedMessages = append(updatedMessages, msgs...)
		}
	}

	warmRaw, err := r.cache.All(ctx, cache.Warm, userHash)
	if err != nil {
		r.logger.Warn("warm cache scan failed during delta sync", zap.Error(err))
		warmRaw = nil
	}
	for chatID, raw := range warmRaw {
		if seen[chatID] {
			continue
		}
		var w warmEntry
		if err := json.Unmarshal(raw, &w); err != nil {
			continue
		}
		if w.Persisted || !w.UpdatedAt.After(lastSync) {
			continue
		}
		seen[chatID] = true
		c := &domain.Chat{
			ChatID: w.ChatID, UserHash: w.UserHash,
			TitleV: w.TitleV, DraftV: w.DraftV, MessagesV: w.MessagesV,
			CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
			LastMessageTimestamp: w.LastMessageTimestamp, LastEditedOverallTimestamp: w.LastEditedOverallTimestamp,
			Persisted: w.Persisted,
		}
		var hot hotEntry
		if err := r.cache.Get(ctx, cache.Hot, userHash, chatID, &hot); err == nil {
			c = hot.Chat
		}
		delta, err := r.componentDelta(ctx, c, known[chatID], lastSync)
		if err != nil {
			return DeltaPayload{}, err
		}
		if delta != nil {
			updatedChats = append(updatedChats, *delta)
		}
	}

	var deletions []string
	for chatID := range known {
		if seen[chatID] {
			continue
		}
		var exists int
		err := r.stmt("chatExists").QueryRowContext(ctx, chatID).Scan(&exists)
		if err == sql.ErrNoRows {
			deletions = append(deletions, chatID)
		} else if err != nil {
			return DeltaPayload{}, fmt.Errorf("chat exists check: %w", err)
		}
	}

	return DeltaPayload{
		UpdatedChats:    updatedChats,
		UpdatedMessages: updatedMessages,
		Deletions:       deletions,
		ServerTimestamp: serverTimestamp,
	}, nil
}

func (r *ChatRepository) componentDelta(ctx context.Context, c *domain.Chat, kv ClientVersions, lastSync time.Time) (*ChatDelta, error) {
	var comps []ComponentVersion
	known := !kv.isZero()
	if !known || c.TitleV > kv.TitleV {
		comps = append(comps, ComponentVersion{Component: domain.ComponentTitle, Version: c.TitleV, Payload: c.EncryptedTitle})
	}
	if !known || c.DraftV > kv.DraftV {
		comps = append(comps, ComponentVersion{Component: domain.ComponentDraft, Version: c.DraftV, Payload: c.EncryptedDraft})
	}
	if !known || c.MessagesV > kv.MessagesV {
		comps = append(comps, ComponentVersion{Component: domain.ComponentMessages, Version: c.MessagesV})
	}
	if len(comps) == 0 {
		return nil, nil
	}
	return &ChatDelta{ChatID: c.ChatID, Components: comps}, nil
}

func (v ClientVersions) isZero() bool {
	return v.TitleV == 0 && v.DraftV == 0 && v.MessagesV == 0
}

func hasComponent(comps []ComponentVersion, c domain.Component) bool {
	for _, cv := range comps {
		if cv.Component == c {
			return true
		}
	}
	return false
}

func (r *ChatRepository) rangedMessages(ctx context.Context, chatID string, since time.Time) ([]domain.Message, error) {
	rows, err := r.stmt("rangeMessages").QueryContext(ctx, chatID, since)
	if err != nil {
		return nil, fmt.Errorf("range messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := r.scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ranged message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close releases prepared statements.
func (r *ChatRepository) Close() error {
	for _, stmt := range r.stmts {
		stmt.Close()
	}
	return nil
}
