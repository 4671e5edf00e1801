// Package workerqueue is the Worker Queue collaborator named in spec §5/§6:
// a `segmentio/kafka-go` producer for the preprocess-enqueue direction and
// a consumer group for the assistant-events ingress direction, the same
// library serving both halves of spec §4.6's "ingress is the symmetric
// path" note.
//
// Grounded on the teacher's chat_handler.go `publishEvent` (marshal to
// JSON, `kafka.Writer.WriteMessages` on a fixed topic, log-and-continue on
// publish failure).
package workerqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TopicPreprocess carries jobs produced by the core for the assistant
// worker to consume; TopicAssistantEvents carries the assistant's
// streamed chunks and terminal events back to the core.
const (
	TopicPreprocess      = "chat.preprocess"
	TopicAssistantEvents = "chat.assistant-events"
)

// PreprocessJob is the payload enqueued for every synced message, per
// spec §4.6's `message_received` handler.
type PreprocessJob struct {
	ChatID    string `json:"chat_id"`
	UserHash  string `json:"user_hash"`
	MessageID string `json:"message_id"`
}

// Producer implements internal/repository.PreprocessQueue over a Kafka
// writer.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer builds a Producer. The writer balances across partitions by
// key (chat_id), matching the teacher's single-writer-per-process
// pattern but adding a partition key so ordering is preserved per chat.
func NewProducer(brokers []string, logger *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        TopicPreprocess,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{writer: w, logger: logger}
}

// EnqueuePreprocess implements internal/repository.PreprocessQueue.
func (p *Producer) EnqueuePreprocess(ctx context.Context, chatID, userHash, messageID string) error {
	job := PreprocessJob{ChatID: chatID, UserHash: userHash, MessageID: messageID}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal preprocess job: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(chatID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("enqueue preprocess job: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
