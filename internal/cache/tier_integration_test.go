//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// TestHotTierRespectsPerUserBound exercises the Cache Tier against a real
// Redis container (testcontainers-go, a teacher dependency previously
// unwired) to prove the LRU eviction spec §8 requires: "at most
// HOT_CACHE_PER_USER chats appear in Hot cache."
func TestHotTierRespectsPerUserBound(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	mgr := NewManager(client, zap.NewNop(), Config{HotPerUser: 3, WarmPerUser: 100, SlidingTTL: time.Minute})

	for i := 0; i < 5; i++ {
		chatID := string(rune('a' + i))
		require.NoError(t, mgr.Put(ctx, Hot, "user1", chatID, map[string]string{"id": chatID}))
	}

	count, err := client.ZCard(ctx, lruKey(Hot, "user1")).Result()
	require.NoError(t, err)
	require.LessOrEqual(t, count, int64(3))
}
