package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"

	"image-transformer/internal/config"
)

// ErrQueueUnavailable means the broker rejected or never received a
// publish. Callers surface it so clients can retry later.
var ErrQueueUnavailable = errors.New("job queue unavailable")

// retryCountHeader carries the delivery's retry budget consumption.
// Republishing with an incremented counter replaces broker-side
// requeueing, which would loop forever on a poison message.
const retryCountHeader = "x-retry-count"

// Connect dials the broker, retrying with a fixed backoff until it
// succeeds or the context is canceled. Startup should wait for the
// broker rather than crash-loop ahead of it.
func Connect(ctx context.Context, url string, backoff time.Duration) (*amqp.Connection, error) {
	if backoff <= 0 {
		backoff = 3 * time.Second
	}

	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}

		zlog.Logger.Warn().Err(err).Dur("backoff", backoff).Msg("rabbitmq not ready, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to rabbitmq: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// declareQueues declares the job queue and its dead-letter target.
// Both are durable; the job queue dead-letters rejected deliveries to
// the dead queue through the default exchange.
func declareQueues(ch *amqp.Channel, cfg *config.Rabbit) error {
	if _, err := ch.QueueDeclare(
		cfg.DeadLetterQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": cfg.DeadLetterQueue,
		},
	); err != nil {
		return fmt.Errorf("declare job queue: %w", err)
	}

	return nil
}

// retryCount reads the retry counter from delivery headers. Missing or
// oddly-typed headers count as zero.
func retryCount(headers amqp.Table) int {
	v, ok := headers[retryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
