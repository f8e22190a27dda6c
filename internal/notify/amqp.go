package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/atmx/market-feed/internal/model"
)

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes notifications to a RabbitMQ fanout exchange. The
// routing key is the instrument identifier so topic rebinding stays possible.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	timeout  time.Duration
	mu       sync.Mutex
}

// DialAMQP connects to url and declares a durable fanout exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("notify: rabbitmq url is required")
	}
	if exchange == "" {
		return nil, errors.New("notify: exchange name cannot be empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := newAMQPPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{channel: ch, exchange: exchange, timeout: 5 * time.Second}
}

func (p *AMQPPublisher) Notify(n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(ctx, p.exchange, n.InstrumentID, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   n.ID,
		Type:        string(n.Type),
		Timestamp:   n.Timestamp,
		Body:        body,
	})
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.channel.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
