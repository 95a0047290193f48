// Package messaging owns the broker side of the stock service: the durable
// purchase topology, the publisher used for redelivery and dead-lettering,
// and the bounded consumer pool feeding the stock mutation engine.
package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/ecommerce-microservices/stock-service/internal/config"
)

// Client wraps one AMQP connection shared by the publisher and the consumer
// pool. Consumers open their own channels; the embedded channel serves
// publishing and topology declaration.
type Client struct {
	cfg        config.RabbitMQConfig
	connection *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	isClosing  bool
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewClient(cfg config.RabbitMQConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the broker with a bounded retry and opens the publishing
// channel. It also starts a watcher that redials when the connection drops.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for i := 0; i < c.cfg.ConnectRetryCount; i++ {
		c.connection, err = amqp.Dial(c.cfg.ConnectionURL())
		if err != nil {
			log.Printf("RabbitMQ connection error (attempt %d/%d): %v", i+1, c.cfg.ConnectRetryCount, err)
			if i < c.cfg.ConnectRetryCount-1 {
				time.Sleep(c.cfg.ConnectRetryDelay)
				continue
			}
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}

		c.channel, err = c.connection.Channel()
		if err != nil {
			c.connection.Close()
			return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
		}

		log.Printf("Successfully connected to RabbitMQ: %s", c.cfg.Host)
		go c.handleReconnection()
		return nil
	}

	return err
}

// DeclareTopology sets up the durable purchase topology: a direct exchange
// bound to the primary queue, plus the dead-letter exchange and queue. The
// primary queue routes broker-side rejections to the dead-letter exchange
// through its queue arguments. Any declaration failure is fatal to startup;
// there is no degraded mode for message intake.
func (c *Client) DeclareTopology() error {
	channel := c.Channel()
	if channel == nil {
		return fmt.Errorf("there is no connection to RabbitMQ")
	}

	if err := channel.ExchangeDeclare(
		c.cfg.Exchange, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := channel.ExchangeDeclare(
		c.cfg.DLXExchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	dlq, err := channel.QueueDeclare(
		c.cfg.DLXQueue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}

	if err := channel.QueueBind(dlq.Name, c.cfg.DLXRoutingKey, c.cfg.DLXExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	queue, err := channel.QueueDeclare(
		c.cfg.Queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    c.cfg.DLXExchange,
			"x-dead-letter-routing-key": c.cfg.DLXRoutingKey,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	log.Printf("Queue topology declared: %s -> %s (dead letters: %s -> %s)",
		c.cfg.Exchange, queue.Name, c.cfg.DLXExchange, dlq.Name)
	return nil
}

// ConsumerChannel opens a dedicated channel with the configured prefetch for
// one consumer worker.
func (c *Client) ConsumerChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.connection == nil || c.connection.IsClosed() {
		return nil, fmt.Errorf("there is no connection to RabbitMQ")
	}

	channel, err := c.connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if err := channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to set consumer prefetch: %w", err)
	}
	return channel, nil
}

func (c *Client) handleReconnection() {
	notifyClose := make(chan *amqp.Error)
	c.connection.NotifyClose(notifyClose)

	select {
	case err := <-notifyClose:
		c.mu.RLock()
		closing := c.isClosing
		c.mu.RUnlock()
		if !closing {
			log.Printf("RabbitMQ connection lost: %v. Trying to reconnect...", err)
			time.Sleep(time.Second * 2)
			if reconnectErr := c.Connect(); reconnectErr != nil {
				log.Printf("Reconnect error: %v", reconnectErr)
			}
		}
	case <-c.ctx.Done():
	}
}

func (c *Client) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connection != nil && !c.connection.IsClosed()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosing {
		return nil
	}
	c.isClosing = true
	c.cancel()

	var closeErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			closeErr = fmt.Errorf("channel close error: %w", err)
		}
	}
	if c.connection != nil {
		if err := c.connection.Close(); err != nil {
			if closeErr != nil {
				closeErr = fmt.Errorf("%v; connection close error: %w", closeErr, err)
			} else {
				closeErr = fmt.Errorf("connection close error: %w", err)
			}
		}
	}

	if closeErr == nil {
		log.Println("RabbitMQ connection closed successfully")
	}
	return closeErr
}
