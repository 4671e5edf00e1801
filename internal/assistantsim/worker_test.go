package assistantsim

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilchat/chatsync/internal/protocol"
)

func TestDefaultConfig_HasSaneBounds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.Workers, 0)
	assert.GreaterOrEqual(t, cfg.MaxWorkers, cfg.Workers)
	assert.Greater(t, cfg.ChunkCount, 0)
}

func TestSimulatedStreamChunkPayload_DecodesAsValidFrame(t *testing.T) {
	payload := map[string]interface{}{
		"type":      "ai_stream_chunk",
		"user_hash": "u1",
		"chat_id":   "c1",
		"chunk":     base64.StdEncoding.EncodeToString([]byte("simulated-chunk-0")),
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	// Decoded the way workerqueue.Consumer reads assistant events: the type
	// tag and the payload fields sit side by side at the top level.
	var envelope struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.Equal(t, protocol.TypeAIStreamChunk, envelope.Type)
	var chunk protocol.AIStreamChunk
	require.NoError(t, json.Unmarshal(raw, &chunk))
	require.NoError(t, chunk.Validate())
	assert.Equal(t, "simulated-chunk-0", string(chunk.Chunk))
}

func TestSimulatedReadyPayload_DecodesAsValidFrame(t *testing.T) {
	payload := map[string]interface{}{
		"type":              "ai_message_ready",
		"user_hash":         "u1",
		"chat_id":           "c1",
		"encrypted_content": base64.StdEncoding.EncodeToString([]byte("simulated-response")),
		"status":            "synced",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var envelope struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.Equal(t, protocol.TypeAIMessageReady, envelope.Type)
	var ready protocol.AIMessageReady
	require.NoError(t, json.Unmarshal(raw, &ready))
	require.NoError(t, ready.Validate())
	assert.Equal(t, "synced", ready.Status)
}
