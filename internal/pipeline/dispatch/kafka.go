// internal/pipeline/dispatch/kafka.go
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"diagram-submissions/internal/common/config"
	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/models"
)

// MessageWriter is the part of *kafka.Writer the dispatcher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher writes commands to a topic keyed by question, so every
// attempt for one question lands on the same partition in order.
type KafkaDispatcher struct {
	writer MessageWriter
	topic  string
	log    logger.Logger
}

func NewKafkaDispatcher(cfg config.KafkaConfig, log logger.Logger) (*KafkaDispatcher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka dispatcher requires brokers")
	}
	batchTimeout := config.GetDuration(cfg.BatchTimeout)
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaDispatcherWithWriter(writer, cfg.Topic, log), nil
}

func NewKafkaDispatcherWithWriter(writer MessageWriter, topic string, log logger.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{writer: writer, topic: topic, log: log.Named("dispatch.kafka")}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, identity models.QuestionIdentity, cmd models.SubmitCommand) error {
	value, err := json.Marshal(cmd)
	if err != nil {
		return errors.NewDispatchFailedError(TransportKafka, err)
	}

	msg := kafka.Message{
		Key:   []byte(identity.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(cmd.Action)},
			{Key: "interaction_id", Value: []byte(cmd.InteractionID)},
		},
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return errors.NewDispatchFailedError(TransportKafka, err)
	}

	d.log.Info("submission written", map[string]interface{}{
		"question":      identity.Key(),
		"interactionId": cmd.InteractionID,
		"topic":         d.topic,
	})
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
