package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func connectToRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	slog.Error("failed to connect to rabbitmq", "attempts", MaxConnectRetry, "error", err)
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", MaxConnectRetry, err)
}

type RabbitMQNotifier struct {
	connLock   sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	url        string
	destructor sync.Once
}

var _ Notifier = (*RabbitMQNotifier)(nil)

func NewRabbitMQNotifier(rabbitMQURL string) (*RabbitMQNotifier, error) {
	n := &RabbitMQNotifier{url: rabbitMQURL}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *RabbitMQNotifier) connect() error {
	var err error
	n.conn, err = connectToRabbitMQ(n.url)
	if err != nil {
		return err
	}

	n.channel, err = n.conn.Channel()
	if err != nil {
		n.conn.Close()
		slog.Error("failed to open rabbitmq channel", "error", err)
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	for _, queue := range []string{CompletedQueue, FailedQueue} {
		_, err := n.channel.QueueDeclare(queue, true, false, false, false, nil)
		if err != nil {
			n.conn.Close()
			return fmt.Errorf("failed to declare rabbitmq queue %s: %w", queue, err)
		}
	}

	slog.Info("rabbitmq channel opened and notification queues declared")

	// Handle reconnects in background
	go n.handleReconnect()

	return nil
}

func (n *RabbitMQNotifier) handleReconnect() {
	notifyClose := make(chan *amqp.Error)
	n.channel.NotifyClose(notifyClose)

	err, ok := <-notifyClose
	if !ok { // channel is just closed on graceful close
		slog.Info("rabbitmq connection closed", "error", err)
		return
	}

	slog.Warn("rabbitmq connection closed, attempting to reconnect", "error", err)

	n.connLock.Lock() // ensure the connection is not used while reconnecting
	defer n.connLock.Unlock()

	n.channel = nil
	n.conn = nil
	for {
		if n.connect() == nil {
			slog.Info("successfully reconnected to rabbitmq")
			return
		}
		time.Sleep(RetryDelay * 10)
	}
}

func (n *RabbitMQNotifier) publishEventInternal(ctx context.Context, queueName string, payload interface{}) error {
	n.connLock.RLock()
	defer n.connLock.RUnlock()

	if n.channel == nil || n.channel.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal notification payload", "queue", queueName, "error", err)
		return fmt.Errorf("failed to marshal %s payload: %w", queueName, err)
	}

	err = n.channel.PublishWithContext(ctx,
		"",        // exchange (default)
		queueName, // routing key (queue name)
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		slog.Error("failed to publish notification, potential connection issue", "queue", queueName, "error", err)
		return fmt.Errorf("failed to publish %s: %w", queueName, err)
	}

	return nil
}

func (n *RabbitMQNotifier) NotifyPredictionCompleted(ctx context.Context, payload PredictionCompletedPayload) error {
	return n.publishEventInternal(ctx, CompletedQueue, payload)
}

func (n *RabbitMQNotifier) NotifyPredictionFailed(ctx context.Context, payload PredictionFailedPayload) error {
	return n.publishEventInternal(ctx, FailedQueue, payload)
}

func (n *RabbitMQNotifier) Close() {
	n.destructor.Do(func() {
		if err := n.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	})
}

type rabbitMQEvent struct {
	d amqp.Delivery
}

func (e *rabbitMQEvent) Type() string {
	return e.d.RoutingKey
}

func (e *rabbitMQEvent) Payload() []byte {
	return e.d.Body
}

func (e *rabbitMQEvent) Ack() error {
	return e.d.Ack(false)
}

func (e *rabbitMQEvent) Nack() error {
	return e.d.Nack(false, false)
}

// RabbitMQReceiver consumes notification events, e.g. for a push gateway or
// an audit consumer.
type RabbitMQReceiver struct {
	events     chan Event
	url        string
	stop       chan struct{}
	consumers  sync.WaitGroup
	destructor sync.Once
}

var _ Receiver = (*RabbitMQReceiver)(nil)

func NewRabbitMQReceiver(rabbitMQURL string) (*RabbitMQReceiver, error) {
	r := &RabbitMQReceiver{
		events: make(chan Event),
		url:    rabbitMQURL,
		stop:   make(chan struct{}),
	}

	if err := r.receiveEvents(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQReceiver) consume(msgs <-chan amqp.Delivery) {
	defer r.consumers.Done()
	for d := range msgs {
		r.events <- &rabbitMQEvent{d: d}
	}
}

func (r *RabbitMQReceiver) receiveEvents() error {
	conn, err := connectToRabbitMQ(r.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		slog.Error("failed to open rabbitmq channel", "error", err)
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := channel.Qos(1, 0, false); err != nil {
		slog.Error("failed to set channel qos", "error", err)
		conn.Close()
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	for _, queue := range []string{CompletedQueue, FailedQueue} {
		if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("failed to declare rabbitmq queue %s: %w", queue, err)
		}

		msgs, err := channel.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			slog.Error("failed to consume from rabbitmq queue", "queue", queue, "error", err)
			conn.Close()
			return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", queue, err)
		}

		r.consumers.Add(1)
		go r.consume(msgs)
	}

	go r.handleReconnect(conn, channel)

	return nil
}

func (r *RabbitMQReceiver) handleReconnect(conn *amqp.Connection, channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error)
	channel.NotifyClose(notifyClose)

	select {
	case err, ok := <-notifyClose:
		if !ok {
			slog.Info("rabbitmq connection closed", "error", err)
			return
		}

		slog.Warn("rabbitmq connection closed, attempting to reconnect", "error", err)

		for {
			if r.receiveEvents() == nil {
				slog.Info("successfully restarted rabbitmq consumer")
				return
			}
			time.Sleep(RetryDelay)
		}
	case <-r.stop:
		slog.Info("stopping rabbitmq consumer")
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
		// Closing the connection ends the delivery channels; the events
		// channel is closed only after every consumer has drained.
		r.consumers.Wait()
		close(r.events)
		return
	}
}

func (r *RabbitMQReceiver) Events() <-chan Event {
	return r.events
}

func (r *RabbitMQReceiver) Close() {
	r.destructor.Do(func() {
		close(r.stop)
	})
}
