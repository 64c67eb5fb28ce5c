// Package kafka consumes backend push notifications from a broker topic.
package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"telego/internal/logx"
	"telego/internal/syncer"
)

// HandleFunc processes a single notification from Kafka.
type HandleFunc func(context.Context, syncer.Notification) error

var newConsumerGroup = sarama.NewConsumerGroup

const consumeRetryDelay = time.Second

// Consumer wraps a Sarama consumer group and dispatches notifications to a handler.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler HandleFunc
	logger  logx.Logger
}

// NewConsumer creates a consumer. It returns nil, nil when kafka is not
// configured.
func NewConsumer(logger logx.Logger, brokers []string, groupID, topic string, h HandleFunc) (*Consumer, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" || strings.TrimSpace(groupID) == "" {
		return nil, nil
	}

	cfg := sarama.NewConfig()
	// only notifications published while the session is live matter
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := newConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:   group,
		topic:   topic,
		handler: h,
		logger:  logger.With(logx.String("component", "kafka"), logx.String("topic", topic)),
	}, nil
}

// Run consumes until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}

	h := &groupHandler{c: c}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("kafka consume error", logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(consumeRetryDelay):
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	return c.group.Close()
}

type groupHandler struct{ c *Consumer }

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim never blocks the partition on a bad message: every message is
// marked whether or not it could be handled.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log := h.c.logger
	for msg := range claim.Messages() {
		n, err := syncer.ParseNotification(msg.Value)
		if err != nil {
			log.Warn("kafka bad json", logx.Err(err), logx.Int64("offset", msg.Offset))
			sess.MarkMessage(msg, "")
			continue
		}
		if !n.Refresh() {
			log.Debug("kafka notification ignored", logx.String("type", n.Type))
			sess.MarkMessage(msg, "")
			continue
		}

		if err := h.c.handler(sess.Context(), n); err != nil {
			log.Warn("kafka handle failed, skipping message",
				logx.String("type", n.Type),
				logx.String("order_id", n.OrderID),
				logx.Err(err),
			)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
