package marketdata

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaTickFeed publishes price ticks to a kafka topic for downstream
// consumers (candle builders, analytics). Book diffs stay on the websocket
// path only.
type KafkaTickFeed struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaTickFeed creates a tick producer for the given brokers and topic.
func NewKafkaTickFeed(brokers []string, topic string, logger *zap.Logger) *KafkaTickFeed {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return &KafkaTickFeed{writer: writer, logger: logger}
}

// PublishDiff implements Publisher. Diffs are not fed to kafka.
func (f *KafkaTickFeed) PublishDiff(ctx context.Context, diff OrderBookDiff) {}

// PublishTick implements Publisher.
func (f *KafkaTickFeed) PublishTick(ctx context.Context, tick PriceTick) {
	value, err := json.Marshal(tick)
	if err != nil {
		f.logger.Error("failed to marshal price tick", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(tick.Symbol),
		Value: value,
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		f.logger.Error("failed to publish price tick",
			zap.String("symbol", tick.Symbol), zap.Error(err))
	}
}

// Close flushes and closes the producer.
func (f *KafkaTickFeed) Close() error {
	return f.writer.Close()
}
