package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ publishes WorkRefs to a durable queue and consumes them with
// manual acks, so a crashed worker's message is redelivered.
type RabbitMQ struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	consume  *amqp.Channel
	queue    string
	prefetch int

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitMQ dials url and declares the queue. prefetch bounds how many
// unacked messages this consumer holds at once.
func NewRabbitMQ(url, queue string, prefetch int) (*RabbitMQ, error) {
	if queue == "" {
		queue = "docflow.embedding"
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := pub.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &RabbitMQ{conn: conn, pub: pub, queue: queue, prefetch: prefetch}, nil
}

func (q *RabbitMQ) Enqueue(ctx context.Context, ref WorkRef) error {
	body, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshal work ref: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pub.PublishWithContext(ctx,
		"",
		q.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ref.JobID,
			Body:         body,
		},
	)
}

func (q *RabbitMQ) startConsumer() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	msgs, err := ch.Consume(
		q.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	q.consume = ch
	q.deliveries = msgs
	return msgs, nil
}

func (q *RabbitMQ) Dequeue(ctx context.Context) (*Delivery, error) {
	msgs, err := q.startConsumer()
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil, ErrClosed
			}
			var ref WorkRef
			if err := json.Unmarshal(msg.Body, &ref); err != nil {
				_ = msg.Nack(false, false)
				continue
			}
			return &Delivery{
				Ref:  ref,
				ack:  func(context.Context) error { return msg.Ack(false) },
				nack: func(context.Context) error { return msg.Nack(false, true) },
			}, nil
		}
	}
}

func (q *RabbitMQ) Ping(context.Context) error {
	if q.conn == nil || q.conn.IsClosed() {
		return fmt.Errorf("amqp connection closed")
	}
	return nil
}

func (q *RabbitMQ) Close() error {
	if q.consume != nil {
		_ = q.consume.Close()
	}
	_ = q.pub.Close()
	return q.conn.Close()
}
