package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"image-transformer/internal/config"
	"image-transformer/internal/model"
)

// Publisher sends transformation jobs to the job queue.
type Publisher struct {
	ch  *amqp.Channel
	cfg *config.Rabbit
}

// NewPublisher opens a channel on the given connection and declares the
// queues it publishes to.
// - conn: established broker connection
// - cfg: Rabbit configuration struct
func NewPublisher(conn *amqp.Connection, cfg *config.Rabbit) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareQueues(ch, cfg); err != nil {
		ch.Close()
		return nil, err
	}

	return &Publisher{ch: ch, cfg: cfg}, nil
}

// Publish serializes the job to JSON and sends it to the job queue with
// persistent delivery, so it survives a broker restart. Failures are
// wrapped in ErrQueueUnavailable.
func (p *Publisher) Publish(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.ch.PublishWithContext(
		ctx,
		"",          // default exchange
		p.cfg.Queue, // routed directly to the queue
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.JobID,
			Timestamp:    job.CreatedAt,
			Headers:      amqp.Table{retryCountHeader: int32(0)},
			Body:         data,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	return nil
}

// Close releases the underlying channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
