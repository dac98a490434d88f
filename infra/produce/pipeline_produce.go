package produce

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	PipelineExchange = "pipeline.exchange"

	// StepQueuedQueue carries wake-up messages for pipeline workers. The
	// durable queue row in Postgres is the source of truth; the message is
	// only a nudge so workers don't have to poll the table.
	StepQueuedQueue      = "pipeline.step_queued"
	StepQueuedRoutingKey = "pipeline.step_queued"
)

// StepQueuedMessage announces that a queue entry became pending
type StepQueuedMessage struct {
	EntryID   string `json:"entry_id"`
	ModuleID  string `json:"module_id"`
	StepName  string `json:"step_name"`
	Timestamp int64  `json:"timestamp"`
}

type PipelineService struct {
	channel *amqp.Channel
}

func InitPipelineService(channel *amqp.Channel) *PipelineService {
	service := &PipelineService{channel: channel}

	err := channel.ExchangeDeclare(
		PipelineExchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		panic("Failed to declare Pipeline exchange: " + err.Error())
	}

	_, err = channel.QueueDeclare(
		StepQueuedQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		panic("Failed to declare Step Queued queue: " + err.Error())
	}

	err = channel.QueueBind(
		StepQueuedQueue,
		StepQueuedRoutingKey,
		PipelineExchange,
		false,
		nil,
	)
	if err != nil {
		panic("Failed to bind Step Queued queue: " + err.Error())
	}

	return service
}

// PublishStepQueued publishes a wake-up for a pending queue entry
func (s *PipelineService) PublishStepQueued(ctx context.Context, msg StepQueuedMessage) error {
	msg.Timestamp = time.Now().Unix()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return s.channel.PublishWithContext(
		ctx,
		PipelineExchange,
		StepQueuedRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}
