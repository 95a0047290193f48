package messaging

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// retryCountHeader tracks how many delivery attempts a message has burned.
// It is incremented on every republish so the redelivery budget survives the
// message leaving and re-entering the primary queue.
const retryCountHeader = "x-retry-count"

// deadLetterReasonHeader carries the human-readable reason a message was
// quarantined, for operator inspection of the dead-letter queue.
const deadLetterReasonHeader = "x-dead-letter-reason"

// Publisher moves messages back onto the primary queue for redelivery and
// into the dead-letter exchange when processing gives up.
type Publisher struct {
	client *Client
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Republish puts the delivery back on its original exchange and routing key
// with the retry counter bumped, preserving payload and headers.
func (p *Publisher) Republish(msg amqp.Delivery, retryCount int) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("there is no connection to RabbitMQ")
	}

	headers := cloneHeaders(msg.Headers)
	headers[retryCountHeader] = int32(retryCount)

	err := p.client.Channel().Publish(
		msg.Exchange,
		msg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID(msg),
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
	if err != nil {
		return fmt.Errorf("republish error: %w", err)
	}

	log.Printf("Message %s republished for retry %d", messageID(msg), retryCount)
	return nil
}

// DeadLetter routes the delivery to the dead-letter exchange with the
// original payload unchanged and the reason attached as a header. This is
// the explicit "give up and let an operator look" path; the message is never
// dropped.
func (p *Publisher) DeadLetter(msg amqp.Delivery, reason string) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("there is no connection to RabbitMQ")
	}

	headers := cloneHeaders(msg.Headers)
	headers[deadLetterReasonHeader] = reason

	err := p.client.Channel().Publish(
		p.client.cfg.DLXExchange,
		p.client.cfg.DLXRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID(msg),
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
	if err != nil {
		return fmt.Errorf("dead-letter publish error: %w", err)
	}

	log.Printf("Message %s dead-lettered: %s", messageID(msg), reason)
	return nil
}

func messageID(msg amqp.Delivery) string {
	if msg.MessageId != "" {
		return msg.MessageId
	}
	return uuid.New().String()
}

func cloneHeaders(headers amqp.Table) amqp.Table {
	cloned := amqp.Table{}
	for key, value := range headers {
		cloned[key] = value
	}
	return cloned
}
