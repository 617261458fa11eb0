// internal/pipeline/dispatch/zeebe.go
package dispatch

import (
	"context"
	"time"

	"diagram-submissions/internal/common/camunda"
	"diagram-submissions/internal/common/errors"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/models"
)

const DefaultMessageTTL = time.Hour

// MessagePublisher is satisfied by *camunda.Client.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, msg camunda.Message) (int64, error)
}

// ZeebeDispatcher resumes the waiting tutoring process by publishing a message
// correlated on the interaction id.
type ZeebeDispatcher struct {
	publisher   MessagePublisher
	messageName string
	ttl         time.Duration
	log         logger.Logger
}

func NewZeebeDispatcher(publisher MessagePublisher, messageName string, ttl time.Duration, log logger.Logger) *ZeebeDispatcher {
	if messageName == "" {
		messageName = models.ActionSubmitAnswer
	}
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	return &ZeebeDispatcher{
		publisher:   publisher,
		messageName: messageName,
		ttl:         ttl,
		log:         log.Named("dispatch.zeebe"),
	}
}

func (d *ZeebeDispatcher) Dispatch(ctx context.Context, identity models.QuestionIdentity, cmd models.SubmitCommand) error {
	msg := camunda.Message{
		Name:           d.messageName,
		CorrelationKey: cmd.InteractionID,
		MessageID:      cmd.InteractionID + ":" + cmd.Timestamp,
		TTL:            d.ttl,
		Variables:      cmd,
	}

	key, err := d.publisher.PublishMessage(ctx, msg)
	if err != nil {
		// the same interaction and timestamp is already buffered
		if camunda.IsDuplicateMessage(err) {
			d.log.Warn("submission message already published", map[string]interface{}{
				"question":  identity.Key(),
				"messageId": msg.MessageID,
			})
			return nil
		}
		return errors.NewDispatchFailedError(TransportZeebe, err)
	}

	d.log.Info("submission message published", map[string]interface{}{
		"question":      identity.Key(),
		"interactionId": cmd.InteractionID,
		"messageKey":    key,
	})
	return nil
}

func (d *ZeebeDispatcher) Close() error {
	return nil
}
