package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPConfig struct {
	URL        string `json:"url" yaml:"url" toml:"url"`
	Exchange   string `json:"exchange" yaml:"exchange" toml:"exchange"`
	RoutingKey string `json:"routingKey" yaml:"routingKey" toml:"routingKey"`
}

// AMQPNotifier publishes pending requests as JSON messages.
type AMQPNotifier struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, jsonrpc.ConfigErrorf("amqp url is empty")
	}

	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = "jsonrpc.pending"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
		}
	} else if _, err := ch.QueueDeclare(routingKey, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", routingKey, err)
	}

	return &AMQPNotifier{
		conn:       conn,
		ch:         ch,
		exchange:   cfg.Exchange,
		routingKey: routingKey,
	}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, namespace string, req *jsonrpc.Request) error {
	body, err := json.Marshal(Event{Context: namespace, Request: req})
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ch == nil {
		return errors.New("amqp notifier is closed")
	}

	return n.ch.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}

	if n.conn != nil {
		conn := n.conn
		n.conn = nil
		return conn.Close()
	}

	return nil
}
