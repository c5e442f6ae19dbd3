package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"stellar-bridge-go/internal/models"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// HandlerFunc consumes one decoded message body. A nil return acknowledges
// the message. A plain error schedules a delayed redelivery; an error marked
// Permanent drops the message after logging, because the settlement ledger
// in the store is the source of truth and a poisoned message must not wedge
// the queue.
type HandlerFunc func(ctx context.Context, body []byte) error

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// DropHandler is notified whenever the broker gives up on a message, either
// a permanent failure or exhausted retries. It lets the owner of the ledger
// move the correlated records out of their pending states rather than leave
// them stranded behind a message that will never redeliver.
type DropHandler func(ctx context.Context, queue string, body []byte)

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Broker is a thin wrapper over one AMQP connection with a direct exchange
// for immediate delivery and an x-delayed-message exchange for retries.
type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     models.QueueConfig

	mu        sync.Mutex
	consumers []*amqp.Channel
	drop      DropHandler
}

// OnDrop registers the handler invoked when a message is dropped. Call it
// before Consume; the broker does not synchronize against in-flight
// deliveries.
func (b *Broker) OnDrop(fn DropHandler) {
	b.drop = fn
}

// Dial connects and declares the exchange pair. Queues are declared by the
// consumers that own them.
func Dial(cfg models.QueueConfig) (*Broker, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("queue URL cannot be empty")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to open channel: %w", err)
	}

	b := &Broker{conn: conn, channel: ch, cfg: cfg}
	if err := b.declareExchanges(ch); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) declareExchanges(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		b.cfg.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("unable to declare exchange: %w", err)
	}

	err = ch.ExchangeDeclare(
		b.cfg.Exchange+".delayed",
		"x-delayed-message",
		true,
		false,
		false,
		false,
		amqp.Table{"x-delayed-type": "direct"},
	)
	if err != nil {
		return fmt.Errorf("unable to declare delayed exchange: %w", err)
	}
	return nil
}

func (b *Broker) declareQueue(ch *amqp.Channel, name string) error {
	q, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("unable to declare queue %s: %w", name, err)
	}

	if err := ch.QueueBind(q.Name, name, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("unable to bind queue %s: %w", name, err)
	}
	if err := ch.QueueBind(q.Name, name, b.cfg.Exchange+".delayed", false, nil); err != nil {
		return fmt.Errorf("unable to bind queue %s to delayed exchange: %w", name, err)
	}
	return nil
}

// Publish enqueues v as JSON on the named queue.
func (b *Broker) Publish(ctx context.Context, queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to encode message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel.PublishWithContext(ctx,
		b.cfg.Exchange,
		queue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

func (b *Broker) scheduleRetry(ctx context.Context, queue string, body []byte, retryCount int) error {
	delay := b.cfg.RetryBase << retryCount
	if delay > b.cfg.RetryMax {
		delay = b.cfg.RetryMax
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel.PublishWithContext(ctx,
		b.cfg.Exchange+".delayed",
		queue,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Headers: amqp.Table{
				"x-delay":     int32(delay.Milliseconds()),
				"retry-count": int32(retryCount + 1),
			},
			Timestamp: time.Now(),
		},
	)
}

// Consume runs the handler over the named queue with the given worker
// parallelism until ctx is cancelled. Each queue gets its own channel so a
// channel-level error on one stage does not take down the others.
func (b *Broker) Consume(ctx context.Context, queue string, workers int, handler HandlerFunc) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("unable to open consumer channel: %w", err)
	}
	b.mu.Lock()
	b.consumers = append(b.consumers, ch)
	b.mu.Unlock()

	if err := b.declareQueue(ch, queue); err != nil {
		return err
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("unable to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("unable to consume %s: %w", queue, err)
	}

	zap.L().Info("Consuming queue",
		zap.String("queue", queue),
		zap.Int("workers", workers))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-deliveries:
					if !ok {
						return
					}
					b.handleDelivery(ctx, queue, delivery, handler)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (b *Broker) handleDelivery(ctx context.Context, queue string, delivery amqp.Delivery, handler HandlerFunc) {
	handlerCtx, cancel := context.WithTimeout(ctx, b.cfg.StageTimeout)
	err := handler(handlerCtx, delivery.Body)
	cancel()

	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			zap.L().Error("Failed to ack message", zap.String("queue", queue), zap.Error(ackErr))
		}
		return
	}

	if isPermanent(err) {
		zap.L().Error("Dropping message after permanent failure",
			zap.String("queue", queue),
			zap.Error(err))
		if b.drop != nil {
			b.drop(ctx, queue, delivery.Body)
		}
		delivery.Ack(false)
		return
	}

	retryCount := 0
	if count, ok := delivery.Headers["retry-count"].(int32); ok {
		retryCount = int(count)
	}

	if retryCount >= b.cfg.MaxAttempts {
		zap.L().Error("Dropping message after max attempts",
			zap.String("queue", queue),
			zap.Int("attempts", retryCount),
			zap.Error(err))
		if b.drop != nil {
			b.drop(ctx, queue, delivery.Body)
		}
		delivery.Ack(false)
		return
	}

	if retryErr := b.scheduleRetry(ctx, queue, delivery.Body, retryCount); retryErr != nil {
		zap.L().Error("Failed to schedule retry, requeueing",
			zap.String("queue", queue),
			zap.Error(retryErr))
		delivery.Nack(false, true)
		return
	}

	zap.L().Warn("Scheduled message retry",
		zap.String("queue", queue),
		zap.Int("attempt", retryCount+1),
		zap.Error(err))
	delivery.Ack(false)
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.consumers {
		ch.Close()
	}
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
