package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"

	"image-transformer/internal/config"
	"image-transformer/internal/model"
)

// JobHandler processes one transformation job. lastAttempt tells the
// handler that no retry will follow, so a failure must be recorded as
// final.
type JobHandler interface {
	Handle(ctx context.Context, job model.Job, lastAttempt bool) error
}

// Consumer reads jobs from the queue and feeds them to the handler.
// Each worker holds at most one unacknowledged delivery at a time, so
// slow jobs spread across workers instead of piling up on one.
type Consumer struct {
	conn    *amqp.Connection
	cfg     *config.Rabbit
	handler JobHandler
}

// NewConsumer creates a new Consumer.
// - conn: established broker connection
// - cfg: Rabbit configuration struct
// - h: handler for processing transformation jobs
func NewConsumer(conn *amqp.Connection, cfg *config.Rabbit, h JobHandler) *Consumer {
	return &Consumer{conn: conn, cfg: cfg, handler: h}
}

// Start launches the given number of consuming workers. Each worker gets
// its own channel and stops when the context is canceled.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go c.consume(ctx, wg, i)
	}
}

func (c *Consumer) consume(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	tag := fmt.Sprintf("transform-worker-%d", id)

	ch, err := c.conn.Channel()
	if err != nil {
		zlog.Logger.Err(err).Str("consumer", tag).Msg("failed to open channel")
		return
	}
	defer ch.Close()

	if err := declareQueues(ch, c.cfg); err != nil {
		zlog.Logger.Err(err).Str("consumer", tag).Msg("failed to declare queues")
		return
	}

	// One unacked delivery at a time per worker.
	if err := ch.Qos(1, 0, false); err != nil {
		zlog.Logger.Err(err).Str("consumer", tag).Msg("failed to set prefetch")
		return
	}

	deliveries, err := ch.Consume(
		c.cfg.Queue,
		tag,
		false, // autoAck: jobs are acked only after handling
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		zlog.Logger.Err(err).Str("consumer", tag).Msg("failed to start consuming")
		return
	}

	zlog.Logger.Info().
		Str("consumer", tag).
		Str("queue", c.cfg.Queue).
		Msg("starting consumer")

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Str("consumer", tag).Msg("shutdown signal received, stopping consumer")
			return
		case d, ok := <-deliveries:
			if !ok {
				zlog.Logger.Warn().Str("consumer", tag).Msg("delivery channel closed")
				return
			}
			c.handleDelivery(ctx, ch, d)
		}
	}
}

// handleDelivery runs one job and settles its delivery: ack on success,
// republish with a bumped retry counter on a retryable failure, or
// dead-letter when the failure is permanent or the budget is spent.
func (c *Consumer) handleDelivery(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	var job model.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		zlog.Logger.Err(err).
			Str("message_id", d.MessageId).
			Msg("malformed job message, dead-lettering")
		c.reject(d)
		return
	}

	attempt := retryCount(d.Headers)
	lastAttempt := attempt >= c.cfg.MaxRetries

	err := c.handler.Handle(ctx, job, lastAttempt)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			zlog.Logger.Err(ackErr).Str("job_id", job.JobID).Msg("failed to ack job")
		}
		return
	}

	// A shutdown mid-job is not a failure of the job. Leave the retry
	// counter alone and hand the delivery back to the broker.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		zlog.Logger.Warn().Str("job_id", job.JobID).Msg("job interrupted, returning to queue")
		if nackErr := d.Nack(false, true); nackErr != nil {
			zlog.Logger.Err(nackErr).Str("job_id", job.JobID).Msg("failed to requeue job")
		}
		return
	}

	if IsPermanent(err) || lastAttempt {
		zlog.Logger.Err(err).
			Str("job_id", job.JobID).
			Str("image_id", job.ImageID).
			Int("attempt", attempt).
			Bool("permanent", IsPermanent(err)).
			Msg("job failed, dead-lettering")
		c.reject(d)
		return
	}

	zlog.Logger.Warn().
		Err(err).
		Str("job_id", job.JobID).
		Int("attempt", attempt).
		Msg("job failed, scheduling retry")

	if pubErr := c.republish(ctx, ch, d, attempt+1); pubErr != nil {
		zlog.Logger.Err(pubErr).Str("job_id", job.JobID).Msg("failed to republish, requeueing in place")
		if nackErr := d.Nack(false, true); nackErr != nil {
			zlog.Logger.Err(nackErr).Str("job_id", job.JobID).Msg("failed to requeue job")
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		zlog.Logger.Err(ackErr).Str("job_id", job.JobID).Msg("failed to ack after republish")
	}
}

// republish puts the delivery back on the job queue with the retry
// counter bumped. The original is acked afterwards, so the message is
// never lost between the two steps, only possibly duplicated.
func (c *Consumer) republish(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, attempt int) error {
	return ch.PublishWithContext(
		ctx,
		"",
		c.cfg.Queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{retryCountHeader: int32(attempt)},
			Body:         d.Body,
		},
	)
}

// reject dead-letters a delivery through the queue's configured
// dead-letter routing.
func (c *Consumer) reject(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		zlog.Logger.Err(err).Str("message_id", d.MessageId).Msg("failed to dead-letter message")
	}
}
