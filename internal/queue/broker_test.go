package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"stellar-bridge-go/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestHandleDeliveryNotifiesDropHandler(t *testing.T) {
	b := &Broker{cfg: models.QueueConfig{MaxAttempts: 3, StageTimeout: time.Second}}

	var dropped []string
	b.OnDrop(func(_ context.Context, queue string, body []byte) {
		if queue != "sign" {
			t.Errorf("Drop reported wrong queue %q", queue)
		}
		dropped = append(dropped, string(body))
	})

	// A permanent failure drops immediately.
	permanent := func(_ context.Context, _ []byte) error {
		return Permanent(errors.New("halted"))
	}
	b.handleDelivery(context.Background(), "sign", amqp.Delivery{Body: []byte("one")}, permanent)
	if len(dropped) != 1 || dropped[0] != "one" {
		t.Fatalf("Expected permanent failure to notify, got %v", dropped)
	}

	// Exhausted retries drop too.
	transient := func(_ context.Context, _ []byte) error {
		return errors.New("flaky")
	}
	exhausted := amqp.Delivery{
		Body:    []byte("two"),
		Headers: amqp.Table{"retry-count": int32(3)},
	}
	b.handleDelivery(context.Background(), "sign", exhausted, transient)
	if len(dropped) != 2 || dropped[1] != "two" {
		t.Fatalf("Expected exhausted retries to notify, got %v", dropped)
	}

	// A handled message never reaches the drop handler.
	ok := func(_ context.Context, _ []byte) error { return nil }
	b.handleDelivery(context.Background(), "sign", amqp.Delivery{Body: []byte("three")}, ok)
	if len(dropped) != 2 {
		t.Fatalf("Successful delivery must not notify, got %v", dropped)
	}
}
