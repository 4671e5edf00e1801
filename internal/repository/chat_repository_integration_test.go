//go:build integration

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/cache"
	"github.com/veilchat/chatsync/internal/domain"
)

type fakeSecretStore struct{}

func (fakeSecretStore) CreateKey(_ context.Context, chatID string) (string, error) {
	return "vault-" + chatID, nil
}

type fakeQueue struct{ enqueued []string }

func (q *fakeQueue) EnqueuePreprocess(_ context.Context, _, _, messageID string) error {
	q.enqueued = append(q.enqueued, messageID)
	return nil
}

// TestChatRepository_DraftThenMessage_EndToEnd exercises the full
// cache-only-draft -> first-synced-message-persists lifecycle against
// real Postgres and Redis, proving §4.3's create_chat_with_draft /
// update_draft / message_received sequence and the messages_v bump.
func TestChatRepository_DraftThenMessage_EndToEnd(t *testing.T) {
	ctx := context.Background()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env:          map[string]string{"POSTGRES_PASSWORD": "test", "POSTGRES_DB": "chatsync"},
			WaitingFor:   wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer pg.Terminate(ctx)

	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer rc.Terminate(ctx)

	pgHost, _ := pg.Host(ctx)
	pgPort, _ := pg.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://postgres:test@%s:%s/chatsync?sslmode=disable", pgHost, pgPort.Port())

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	require.Eventually(t, func() bool { return db.Ping() == nil }, 20*time.Second, 200*time.Millisecond)

	_, err = db.Exec(`
		CREATE TABLE chats (
			chat_id TEXT PRIMARY KEY, user_hash TEXT NOT NULL, vault_key_ref TEXT NOT NULL,
			encrypted_title BYTEA, encrypted_draft BYTEA,
			title_v BIGINT NOT NULL DEFAULT 0, draft_v BIGINT NOT NULL DEFAULT 0, messages_v BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL,
			last_message_timestamp TIMESTAMPTZ, last_edited_overall_timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE messages (
			message_id TEXT PRIMARY KEY, chat_id TEXT NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
			encrypted_content BYTEA NOT NULL, sender_name TEXT NOT NULL, created_at TIMESTAMPTZ NOT NULL, status TEXT NOT NULL
		);`)
	require.NoError(t, err)

	rHost, _ := rc.Host(ctx)
	rPort, _ := rc.MappedPort(ctx, "6379")
	redisClient := redis.NewClient(&redis.Options{Addr: rHost + ":" + rPort.Port()})
	defer redisClient.Close()

	cacheMgr := cache.NewManager(redisClient, zap.NewNop(), cache.Config{HotPerUser: 3, WarmPerUser: 100, SlidingTTL: time.Minute})
	queue := &fakeQueue{}

	repo, err := NewChatRepository(db, cacheMgr, fakeSecretStore{}, queue, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	userHash := "user-hash-1"
	chatID, err := repo.CreateChatWithDraft(ctx, userHash, "client-chat-1", []byte("draft-v1"))
	require.NoError(t, err)

	// draft edits never reach Postgres.
	res, err := repo.UpdateDraft(ctx, userHash, chatID, 1, []byte("draft-v2"))
	require.NoError(t, err)
	require.True(t, res.Accepted)

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM chats WHERE chat_id = $1`, chatID).Scan(&count))
	require.Equal(t, 0, count, "draft-only chat must not reach the Document Store")

	msgID, err := repo.AppendMessage(ctx, userHash, chatID, domain.Message{
		EncryptedContent: []byte("hello"), SenderName: "user", Status: domain.StatusSynced,
	})
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	require.NoError(t, db.QueryRow(`SELECT count(*) FROM chats WHERE chat_id = $1`, chatID).Scan(&count))
	require.Equal(t, 1, count, "first synced message must persist the chat")
	require.Len(t, queue.enqueued, 1)

	chat, messages, err := repo.GetChat(ctx, userHash, chatID)
	require.NoError(t, err)
	require.EqualValues(t, 1, chat.MessagesV)
	require.Len(t, messages, 1)
}

// TestChatRepository_DeleteChat_DoesNotDeleteAnotherUsersMessages proves
// deleteMessages is scoped by user_hash the same way deleteChat is: a
// caller cannot delete another user's messages by passing that user's
// chat_id to DeleteChat.
func TestChatRepository_DeleteChat_DoesNotDeleteAnotherUsersMessages(t *testing.T) {
	ctx := context.Background()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env:          map[string]string{"POSTGRES_PASSWORD": "test", "POSTGRES_DB": "chatsync"},
			WaitingFor:   wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer pg.Terminate(ctx)

	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer rc.Terminate(ctx)

	pgHost, _ := pg.Host(ctx)
	pgPort, _ := pg.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://postgres:test@%s:%s/chatsync?sslmode=disable", pgHost, pgPort.Port())

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.Eventually(t, func() bool { return db.Ping() == nil }, 20*time.Second, 200*time.Millisecond)

	_, err = db.Exec(`
		CREATE TABLE chats (
			chat_id TEXT PRIMARY KEY, user_hash TEXT NOT NULL, vault_key_ref TEXT NOT NULL,
			encrypted_title BYTEA, encrypted_draft BYTEA,
			title_v BIGINT NOT NULL DEFAULT 0, draft_v BIGINT NOT NULL DEFAULT 0, messages_v BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL,
			last_message_timestamp TIMESTAMPTZ, last_edited_overall_timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE messages (
			message_id TEXT PRIMARY KEY, chat_id TEXT NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
			encrypted_content BYTEA NOT NULL, sender_name TEXT NOT NULL, created_at TIMESTAMPTZ NOT NULL, status TEXT NOT NULL
		);`)
	require.NoError(t, err)

	rHost, _ := rc.Host(ctx)
	rPort, _ := rc.MappedPort(ctx, "6379")
	redisClient := redis.NewClient(&redis.Options{Addr: rHost + ":" + rPort.Port()})
	defer redisClient.Close()

	cacheMgr := cache.NewManager(redisClient, zap.NewNop(), cache.Config{HotPerUser: 3, WarmPerUser: 100, SlidingTTL: time.Minute})

	repo, err := NewChatRepository(db, cacheMgr, fakeSecretStore{}, &fakeQueue{}, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	victimHash := "user-victim"
	victimChatID, err := victimChatWithMessage(ctx, repo, victimHash)
	require.NoError(t, err)

	// The attacker guesses/observes victimChatID and tries to delete it
	// under their own user_hash.
	require.NoError(t, repo.DeleteChat(ctx, "user-attacker", victimChatID))

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM messages WHERE chat_id = $1`, victimChatID).Scan(&count))
	require.Equal(t, 1, count, "an attacker's DeleteChat call must not delete another user's messages")

	require.NoError(t, db.QueryRow(`SELECT count(*) FROM chats WHERE chat_id = $1`, victimChatID).Scan(&count))
	require.Equal(t, 1, count, "an attacker's DeleteChat call must not delete another user's chat row either")

	// The real owner can still delete it.
	require.NoError(t, repo.DeleteChat(ctx, victimHash, victimChatID))
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM messages WHERE chat_id = $1`, victimChatID).Scan(&count))
	require.Equal(t, 0, count, "the owner's DeleteChat call must delete their own messages")
}

func victimChatWithMessage(ctx context.Context, repo *ChatRepository, userHash string) (string, error) {
	chatID, err := repo.CreateChatWithDraft(ctx, userHash, "client-chat-victim", []byte("draft-v1"))
	if err != nil {
		return "", err
	}
	if _, err := repo.AppendMessage(ctx, userHash, chatID, domain.Message{
		EncryptedContent: []byte("hello"), SenderName: "user", Status: domain.StatusSynced,
	}); err != nil {
		return "", err
	}
	return chatID, nil
}
