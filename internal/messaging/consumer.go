package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/ecommerce-microservices/stock-service/internal/config"
	"github.com/ecommerce-microservices/stock-service/internal/domain"
)

// scaleInterval is how often the consumer pool re-evaluates its size.
const scaleInterval = 5 * time.Second

// scaleDownIdleTicks is how many consecutive empty-queue observations it
// takes before a worker is retired.
const scaleDownIdleTicks = 6

// StockWriter is the slice of the stock mutation engine the consumer needs.
type StockWriter interface {
	WriteDownStock(productID string, quantity int) (*domain.StockRecord, error)
}

// Redeliverer moves a delivery back onto the primary queue or into the
// dead-letter exchange.
type Redeliverer interface {
	Republish(msg amqp.Delivery, retryCount int) error
	DeadLetter(msg amqp.Delivery, reason string) error
}

type deliveryOutcome int

const (
	outcomeApplied deliveryOutcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// Consumer bridges purchase deliveries to the stock mutation engine with a
// bounded pool of workers, each holding its own channel and prefetch window.
type Consumer struct {
	client    *Client
	publisher Redeliverer
	stock     StockWriter
	cfg       config.RabbitMQConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	nextWorkerID int
	workers      map[int]context.CancelFunc
}

func NewConsumer(client *Client, publisher Redeliverer, stock StockWriter, cfg config.RabbitMQConfig) *Consumer {
	return &Consumer{
		client:    client,
		publisher: publisher,
		stock:     stock,
		cfg:       cfg,
		workers:   make(map[int]context.CancelFunc),
	}
}

// Start spins up the minimum worker count and the scaler that grows the pool
// toward the maximum while the queue has a backlog.
func (c *Consumer) Start(parent context.Context) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("there is no connection to RabbitMQ")
	}

	c.ctx, c.cancel = context.WithCancel(parent)
	c.addWorkers(c.cfg.MinConsumers)
	go c.scaler()

	log.Printf("Consuming purchase events on queue %s with %d-%d workers (prefetch %d)",
		c.cfg.Queue, c.cfg.MinConsumers, c.cfg.MaxConsumers, c.cfg.Prefetch)
	return nil
}

// Stop cancels every worker and the scaler.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	for _, cancel := range c.workers {
		cancel()
	}
	c.workers = make(map[int]context.CancelFunc)
	c.mu.Unlock()
}

// WorkerCount returns the number of live workers. Workers deregister
// themselves on exit, so dead ones never linger in the count.
func (c *Consumer) WorkerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workers)
}

func (c *Consumer) scaler() {
	ticker := time.NewTicker(scaleInterval)
	defer ticker.Stop()

	idleTicks := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			// Workers retire themselves when their connection dies and a
			// reconnect does not bring them back on its own, so hold the
			// low watermark before any backlog-driven scaling.
			if workers := c.WorkerCount(); workers < c.cfg.MinConsumers {
				if c.client.IsConnected() {
					c.addWorkers(c.cfg.MinConsumers - workers)
				}
				idleTicks = 0
				continue
			}

			channel := c.client.Channel()
			if channel == nil {
				continue
			}
			queue, err := channel.QueueInspect(c.cfg.Queue)
			if err != nil {
				log.Printf("Queue inspect error: %v", err)
				continue
			}

			workers := c.WorkerCount()
			if queue.Messages > workers && workers < c.cfg.MaxConsumers {
				c.addWorkers(1)
				idleTicks = 0
				continue
			}
			if queue.Messages == 0 {
				idleTicks++
				if idleTicks >= scaleDownIdleTicks && workers > c.cfg.MinConsumers {
					c.removeWorkers(1)
					idleTicks = 0
				}
			} else {
				idleTicks = 0
			}
		}
	}
}

func (c *Consumer) addWorkers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		workerCtx, cancel := context.WithCancel(c.ctx)
		c.nextWorkerID++
		c.workers[c.nextWorkerID] = cancel
		go c.worker(workerCtx, c.nextWorkerID)
	}
	log.Printf("Consumer pool scaled to %d workers", len(c.workers))
}

func (c *Consumer) removeWorkers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.workers {
		if n <= 0 {
			break
		}
		cancel()
		delete(c.workers, id)
		n--
	}
	log.Printf("Consumer pool scaled to %d workers", len(c.workers))
}

// forgetWorker drops an exited worker from the pool so WorkerCount reflects
// only live workers and the scaler can respawn toward the low watermark.
func (c *Consumer) forgetWorker(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.workers[id]; ok {
		cancel()
		delete(c.workers, id)
	}
}

// worker owns one channel with the configured prefetch and processes one
// delivery at a time. It deregisters itself on every exit path: a channel
// or consume error, a closed delivery channel after a connection loss, or
// cancellation.
func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.forgetWorker(id)

	channel, err := c.client.ConsumerChannel()
	if err != nil {
		log.Printf("Worker %d channel error: %v", id, err)
		return
	}
	defer channel.Close()

	consumerTag := fmt.Sprintf("stock-service-%d", id)
	deliveries, err := channel.Consume(
		c.cfg.Queue, // queue
		consumerTag, // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		log.Printf("Worker %d consume error: %v", id, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				log.Printf("Worker %d delivery channel closed", id)
				return
			}
			c.handleDelivery(msg)
		}
	}
}

// handleDelivery runs one delivery through the RECEIVED -> APPLIED / retry /
// dead-letter decision.
func (c *Consumer) handleDelivery(msg amqp.Delivery) {
	var event domain.PurchaseEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		// Retrying cannot fix a malformed message.
		c.quarantine(msg, fmt.Sprintf("malformed purchase event: %v", err))
		return
	}
	if event.MessageID == "" {
		event.MessageID = msg.MessageId
	}
	if err := event.Validate(); err != nil {
		c.quarantine(msg, err.Error())
		return
	}

	log.Printf("Purchase event received: messageID=%s productID=%s quantity=%d",
		event.MessageID, event.ProductID, event.Quantity)

	_, err := c.stock.WriteDownStock(event.ProductID, event.Quantity)
	switch classifyOutcome(err) {
	case outcomeApplied:
		c.ack(msg)
	case outcomeDeadLetter:
		c.quarantine(msg, err.Error())
	case outcomeRetry:
		attempts := retryCountFrom(msg.Headers) + 1
		if attempts >= c.cfg.RedeliveryLimit {
			c.quarantine(msg, fmt.Sprintf("redelivery budget exhausted after %d attempts: %v", attempts, err))
			return
		}
		if republishErr := c.publisher.Republish(msg, attempts); republishErr != nil {
			log.Printf("Republish failed, requeueing at the broker: %v", republishErr)
			c.nack(msg, true)
			return
		}
		// A failed ack here means the broker will redeliver a message we
		// already republished, so make the duplicate visible in the logs.
		c.ack(msg)
	}
}

// quarantine routes the delivery to the dead-letter exchange and acks the
// original. When even the dead-letter publish fails, the broker's own
// queue-level dead-lettering takes over through the rejection.
func (c *Consumer) quarantine(msg amqp.Delivery, reason string) {
	if err := c.publisher.DeadLetter(msg, reason); err != nil {
		log.Printf("Dead-letter publish failed, rejecting delivery: %v", err)
		c.nack(msg, false)
		return
	}
	c.ack(msg)
}

func (c *Consumer) ack(msg amqp.Delivery) {
	if err := msg.Ack(false); err != nil {
		log.Printf("Ack error for message %s: %v", msg.MessageId, err)
	}
}

func (c *Consumer) nack(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		log.Printf("Nack error for message %s: %v", msg.MessageId, err)
	}
}

// classifyOutcome maps the engine's answer for one delivery onto the
// acknowledge/retry/dead-letter decision. Domain conflicts are permanent:
// redelivering an oversell or an unknown product cannot succeed later, so
// those go to the operator. Everything else is treated as transient
// infrastructure trouble.
func classifyOutcome(err error) deliveryOutcome {
	if err == nil {
		return outcomeApplied
	}

	var notEnough *domain.NotEnoughStockError
	var notFound *domain.ProductNotFoundError
	var invalid *domain.ValidationError
	if errors.As(err, &notEnough) || errors.As(err, &notFound) || errors.As(err, &invalid) {
		return outcomeDeadLetter
	}
	return outcomeRetry
}

// retryCountFrom reads the redelivery counter header, tolerating the integer
// widths different AMQP clients use.
func retryCountFrom(headers amqp.Table) int {
	value, ok := headers[retryCountHeader]
	if !ok {
		return 0
	}
	switch count := value.(type) {
	case int32:
		return int(count)
	case int64:
		return int(count)
	case int:
		return count
	default:
		return 0
	}
}
