// internal/pipeline/dispatch/dispatch.go
package dispatch

import (
	"context"
	"fmt"

	"diagram-submissions/internal/common/config"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/models"
)

const (
	TransportZeebe = "zeebe"
	TransportKafka = "kafka"
)

// Dispatcher delivers a submit command to the orchestrator.
type Dispatcher interface {
	Dispatch(ctx context.Context, identity models.QuestionIdentity, cmd models.SubmitCommand) error
	Close() error
}

// New selects the transport named by submission.dispatcher. publisher is
// required for zeebe and ignored for kafka.
func New(cfg *config.Config, publisher MessagePublisher, log logger.Logger) (Dispatcher, error) {
	switch cfg.Submission.Dispatcher {
	case "", TransportZeebe:
		if publisher == nil {
			return nil, fmt.Errorf("zeebe dispatcher requires a camunda client")
		}
		return NewZeebeDispatcher(publisher, cfg.Submission.MessageName, config.GetDuration(cfg.Submission.MessageTTL), log), nil
	case TransportKafka:
		return NewKafkaDispatcher(cfg.Kafka, log)
	default:
		return nil, fmt.Errorf("unknown dispatcher %q", cfg.Submission.Dispatcher)
	}
}
