package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает поток fleet telemetry из Kafka.
type Consumer struct {
	r     messageReader
	topic string
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r:     kafka.NewReader(cfg),
		topic: topic,
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Name() string { return "kafka" }

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume отдаёт каждое сообщение как пару кадров (key, value) и коммитит его
// после обработчика. Ошибка обработчика останавливает цикл без коммита.
func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, frames [][]byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}

		frames := make([][]byte, 0, 2)
		if len(msg.Key) > 0 {
			frames = append(frames, msg.Key)
		}
		frames = append(frames, msg.Value)

		if err := handler(ctx, frames); err != nil {
			// Важно: commit делаем только при успехе, иначе потеряем сообщение.
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("kafka commit failed", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
	}
}
