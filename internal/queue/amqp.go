package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/streadway/amqp"
)

// channel is the subset of *amqp.Channel used here.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPQueue publishes and consumes transport jobs on a durable RabbitMQ
// queue. Messages are JSON encoded and persistent.
type AMQPQueue struct {
	conn     *amqp.Connection
	name     string
	prefetch int
	log      *logger.Logger

	pubMu sync.Mutex
	pub   channel
	sub   channel
}

// NewAMQPQueue dials url and declares the durable queue.
func NewAMQPQueue(url, name string, prefetch int) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	sub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	q, err := newAMQPQueue(pub, sub, name, prefetch)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

func newAMQPQueue(pub, sub channel, name string, prefetch int) (*AMQPQueue, error) {
	if name == "" {
		name = DefaultName
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	if _, err := pub.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return &AMQPQueue{
		name:     name,
		prefetch: prefetch,
		log:      logger.New("queue.amqp"),
		pub:      pub,
		sub:      sub,
	}, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, job *domain.TransportJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode transport job: %w", err)
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.Publish("", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.EnqueuedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish transport job: %w", err)
	}
	return nil
}

// Consume runs h for each delivery until ctx is cancelled. Deliveries are
// acked after h succeeds. Undecodable messages are dropped. A failed
// delivery is requeued once and dropped if it fails again.
func (q *AMQPQueue) Consume(ctx context.Context, h Handler) error {
	if err := q.sub.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	msgs, err := q.sub.Consume(
		q.name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel closed")
			}
			q.deliver(ctx, d, h)
		}
	}
}

func (q *AMQPQueue) deliver(ctx context.Context, d amqp.Delivery, h Handler) {
	var job domain.TransportJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.log.Error("invalid transport job", "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := h(ctx, &job); err != nil {
		requeue := !d.Redelivered
		q.log.Warn("transport job failed", "job_id", job.ID, "requeue", requeue, "error", err)
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

// Close closes the channels and the connection.
func (q *AMQPQueue) Close() error {
	_ = q.sub.Close()
	_ = q.pub.Close()
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
