// Package assistantsim is a stand-in assistant worker: it consumes
// preprocess jobs and produces simulated streamed chunks plus a terminal
// ready event, so the system is runnable end-to-end without a real model
// backend. It never reads or decrypts `encrypted_content` — the content it
// emits is an opaque, canned placeholder, preserving the server's
// zero-knowledge stance w.r.t. chat bodies (spec's non-goal: cryptographic
// primitives are a client concern).
//
// Grounded on the Danor93 teacher's internal/workers/pool.go PoolManager
// (alitto/pond worker pool with bounded min/max workers and idle timeout),
// repurposed from article processing to simulated assistant generation.
package assistantsim

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alitto/pond"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/workerqueue"
)

// Config tunes the simulated worker pool and response shape.
type Config struct {
	Workers      int
	MaxWorkers   int
	ChunkCount   int
	ChunkDelay   time.Duration
}

// DefaultConfig mirrors the Danor93 teacher's PoolConfig defaults scaled
// down for a single simulated pool.
func DefaultConfig() Config {
	return Config{Workers: 4, MaxWorkers: 8, ChunkCount: 3, ChunkDelay: 150 * time.Millisecond}
}

// Worker consumes workerqueue.PreprocessJob messages from chat.preprocess
// and produces simulated ai_stream_chunk/ai_message_ready events onto
// chat.assistant-events.
type Worker struct {
	pool   *pond.WorkerPool
	reader *kafka.Reader
	writer *kafka.Writer
	cfg    Config
	logger *zap.Logger
}

// New builds a Worker bound to the given Kafka brokers.
func New(brokers []string, groupID string, cfg Config, logger *zap.Logger) *Worker {
	pool := pond.New(cfg.Workers, cfg.MaxWorkers, pond.MinWorkers(1), pond.IdleTimeout(30*time.Second))
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   workerqueue.TopicPreprocess,
	})
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        workerqueue.TopicAssistantEvents,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Worker{pool: pool, reader: reader, writer: writer, cfg: cfg, logger: logger}
}

// Run blocks, dispatching each preprocess job to the worker pool until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read preprocess job: %w", err)
		}

		var job workerqueue.PreprocessJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			w.logger.Warn("malformed preprocess job", zap.Error(err))
			continue
		}

		w.pool.Submit(func() {
			w.simulate(ctx, job)
		})
	}
}

// simulate emits ChunkCount stream chunks followed by one terminal ready
// event. The chunk/ready payloads carry placeholder bytes only — this
// worker has no access to the client's encryption key and never will.
func (w *Worker) simulate(ctx context.Context, job workerqueue.PreprocessJob) {
	for i := 0; i < w.cfg.ChunkCount; i++ {
		chunk := map[string]interface{}{
			"type":      "ai_stream_chunk",
			"user_hash": job.UserHash,
			"chat_id":   job.ChatID,
			"chunk":     base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("simulated-chunk-%d", i))),
		}
		if err := w.publish(ctx, job.ChatID, chunk); err != nil {
			w.logger.Warn("failed to publish simulated chunk", zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.ChunkDelay):
		}
	}

	ready := map[string]interface{}{
		"type":              "ai_message_ready",
		"user_hash":         job.UserHash,
		"chat_id":           job.ChatID,
		"encrypted_content": base64.StdEncoding.EncodeToString([]byte("simulated-response")),
		"status":            "synced",
	}
	if err := w.publish(ctx, job.ChatID, ready); err != nil {
		w.logger.Warn("failed to publish simulated ready event", zap.Error(err))
	}
}

func (w *Worker) publish(ctx context.Context, chatID string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal simulated event: %w", err)
	}
	return w.writer.WriteMessages(ctx, kafka.Message{Key: []byte(chatID), Value: data})
}

// Shutdown stops the worker pool and closes the Kafka reader/writer,
// mirroring the teacher's PoolManager.Shutdown sequencing.
func (w *Worker) Shutdown() {
	w.pool.StopAndWait()
	_ = w.reader.Close()
	_ = w.writer.Close()
}
