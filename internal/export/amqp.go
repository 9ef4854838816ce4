package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// publisher is the part of *amqp.Channel the sink needs
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes batches to a topic exchange
type AMQPSink struct {
	exchange   string
	routingKey string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel publisher
}

// DialAMQP connects to the broker and declares a durable topic exchange
func DialAMQP(url, exchange, routingKey string) (*AMQPSink, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	logrus.WithFields(logrus.Fields{
		"exchange":    exchange,
		"routing_key": routingKey,
	}).Info("AMQP sink connected")
	return &AMQPSink{exchange: exchange, routingKey: routingKey, conn: conn, channel: ch}, nil
}

func newAMQPSink(ch publisher, exchange, routingKey string) *AMQPSink {
	return &AMQPSink{exchange: exchange, routingKey: routingKey, channel: ch}
}

// Name implements Sink
func (s *AMQPSink) Name() string {
	return "amqp"
}

// Send implements Sink. The signature travels in the message headers.
func (s *AMQPSink) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         env.Body,
	}
	if env.Signature != nil {
		msg.Headers = amqp.Table{
			HeaderSignature: env.Signature.Signature,
			HeaderSigner:    env.Signature.Signer,
			HeaderDigest:    env.Signature.Digest,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.channel.Publish(s.exchange, s.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.exchange, err)
	}
	return nil
}

// Close closes the channel and connection
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.channel.Close(); err != nil {
		return err
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
