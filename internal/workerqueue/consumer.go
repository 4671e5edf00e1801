package workerqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/veilchat/chatsync/internal/connmgr"
	"github.com/veilchat/chatsync/internal/domain"
	"github.com/veilchat/chatsync/internal/protocol"
)

// ChatAppender is the subset of internal/repository.ChatRepository the
// consumer needs to persist a ready assistant message.
type ChatAppender interface {
	AppendMessage(ctx context.Context, userHash, chatID string, msg domain.Message) (string, error)
}

// Consumer reads assistant events off TopicAssistantEvents and fans them
// out through the Connection Manager, persisting terminal messages via
// the repository — the ingress half of spec §4.6's symmetric worker-queue
// path.
type Consumer struct {
	reader  *kafka.Reader
	conns   *connmgr.Manager
	repo    ChatAppender
	logger  *zap.Logger
}

// NewConsumer builds a Consumer bound to a Kafka consumer group.
func NewConsumer(brokers []string, groupID string, conns *connmgr.Manager, repo ChatAppender, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   TopicAssistantEvents,
	})
	return &Consumer{reader: reader, conns: conns, repo: repo, logger: logger}
}

// Run blocks, processing messages until ctx is cancelled or a
// non-recoverable reader error occurs.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read assistant event: %w", err)
		}
		if err := c.handle(ctx, msg.Value); err != nil {
			c.logger.Warn("failed to process assistant event", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, raw []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch envelope.Type {
	case protocol.TypeAIStreamChunk:
		return c.handleStreamChunk(raw)
	case protocol.TypeAIMessageReady:
		return c.handleMessageReady(ctx, raw)
	default:
		return fmt.Errorf("unknown assistant event type %q", envelope.Type)
	}
}

func (c *Consumer) handleStreamChunk(raw []byte) error {
	var chunk protocol.AIStreamChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return fmt.Errorf("decode stream chunk: %w", err)
	}
	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("invalid stream chunk: %w", err)
	}

	frame, err := protocol.Outbound(protocol.TypeAIStreamChunk, chunk)
	if err != nil {
		return fmt.Errorf("encode outbound stream chunk: %w", err)
	}
	c.conns.DeliverAIUpdate(chunk.UserHash, chunk.ChatID, connmgr.FrameStreamChunk, frame)
	return nil
}

func (c *Consumer) handleMessageReady(ctx context.Context, raw []byte) error {
	var ready protocol.AIMessageReady
	if err := json.Unmarshal(raw, &ready); err != nil {
		return fmt.Errorf("decode message ready: %w", err)
	}
	if err := ready.Validate(); err != nil {
		return fmt.Errorf("invalid message ready: %w", err)
	}

	status := domain.StatusFailed
	if ready.Status == "synced" {
		status = domain.StatusSynced
	}

	if status == domain.StatusSynced {
		msg := domain.Message{
			ChatID:           ready.ChatID,
			SenderName:       "assistant",
			EncryptedContent: ready.EncryptedContent,
			Status:           status,
		}
		if _, err := c.repo.AppendMessage(ctx, ready.UserHash, ready.ChatID, msg); err != nil {
			return fmt.Errorf("persist assistant message: %w", err)
		}
	}

	frame, err := protocol.Outbound(protocol.TypeAIMessageReady, ready)
	if err != nil {
		return fmt.Errorf("encode outbound message ready: %w", err)
	}
	c.conns.DeliverAIUpdate(ready.UserHash, ready.ChatID, connmgr.FrameReady, frame)
	return nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
