package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// Topic for send-now jobs published by the API and consumed by the worker.
const SendNowTopic = "plan_sendnow"

// Queue hands jobs from the API process to the dispatcher.
type Queue interface {
	Publish(topic string, payload []byte) error
	Consume(ctx context.Context, topic string, handler func(payload []byte) error) error
}

const maxDeliveryRetries = 3

// AMQPQueue is the RabbitMQ-backed queue used in production.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch}, nil
}

func (q *AMQPQueue) Close() error {
	q.ch.Close()
	return q.conn.Close()
}

func (q *AMQPQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
}

func (q *AMQPQueue) Publish(topic string, payload []byte) error {
	queue, err := q.declare(topic)
	if err != nil {
		return err
	}
	return q.ch.Publish(
		"",
		queue.Name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         payload,
		},
	)
}

func (q *AMQPQueue) Consume(ctx context.Context, topic string, handler func(payload []byte) error) error {
	queue, err := q.declare(topic)
	if err != nil {
		return err
	}
	msgs, err := q.ch.Consume(
		queue.Name,
		"",
		false, // manual ack for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("amqp channel closed for topic %s", topic)
			}
			if err := handler(d.Body); err != nil {
				// A plain requeue would keep the original headers, so the
				// retry count would never move and a poison job would loop
				// forever; republish with the count bumped instead.
				retries := retryCount(d.Headers)
				if retries < maxDeliveryRetries {
					if pubErr := q.republish(queue.Name, d.Body, retries+1); pubErr != nil {
						d.Nack(false, true)
						continue
					}
				}
			}
			d.Ack(false)
		}
	}
}

func (q *AMQPQueue) republish(name string, body []byte, retries int) error {
	return q.ch.Publish(
		"",
		name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{"x-retry-count": int32(retries)},
			Body:         body,
		},
	)
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch n := headers["x-retry-count"].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// InMemoryQueue delivers payloads to in-process subscribers with the same
// retry behavior, for tests and single-process runs.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload []byte) error
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{handlers: make(map[string][]func(payload []byte) error)}
}

func (q *InMemoryQueue) Publish(topic string, payload []byte) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}
	for _, handler := range handlers {
		go q.process(handler, payload)
	}
	return nil
}

func (q *InMemoryQueue) process(handler func([]byte) error, payload []byte) {
	for attempt := 0; attempt <= maxDeliveryRetries; attempt++ {
		if err := handler(payload); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
}

func (q *InMemoryQueue) Consume(ctx context.Context, topic string, handler func(payload []byte) error) error {
	q.mu.Lock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	q.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

var (
	_ Queue = (*AMQPQueue)(nil)
	_ Queue = (*InMemoryQueue)(nil)
)
