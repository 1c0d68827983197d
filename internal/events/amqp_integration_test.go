//go:build integration

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestIntegration_AMQPPublisher(t *testing.T) {
	ctx := context.Background()
	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	url, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatal(err)
	}

	pub, err := NewAMQPPublisher(url, "test.events", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	sent := New(SessionEnded, "u1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), map[string]any{"reason": "completed"})
	if err := pub.Publish(ctx, sent); err != nil {
		t.Fatal(err)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	var msg amqp.Delivery
	var ok bool
	for range 50 {
		msg, ok, err = ch.Get("test.events", true)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ok {
		t.Fatal("no message delivered")
	}
	var got Event
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != sent.ID || got.Type != SessionEnded || got.Data["reason"] != "completed" {
		t.Errorf("got %+v", got)
	}
}
