package monstermq

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// requireBroker skips the test if no broker is reachable. The address and
// credentials come from RABBITMQ_HOST, RABBITMQ_PORT, RABBITMQ_USER,
// RABBITMQ_PASS and RABBITMQ_VHOST.
func requireBroker(t *testing.T) *ConnectionFactory {
	t.Helper()

	host := getEnv("RABBITMQ_HOST", "localhost")
	port := 5672
	if s := os.Getenv("RABBITMQ_PORT"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			t.Fatalf("RABBITMQ_PORT: %v", err)
		}
		port = p
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 2*time.Second)
	if err != nil {
		t.Skipf("broker not available on %s:%d: %v", host, port, err)
		return nil
	}
	conn.Close()

	return NewConnectionFactory(
		WithHost(host),
		WithPort(port),
		WithCredentials(getEnv("RABBITMQ_USER", "guest"), getEnv("RABBITMQ_PASS", "guest")),
		WithVHost(getEnv("RABBITMQ_VHOST", "/")),
		WithConnectionTimeout(10*time.Second),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// mustChannel connects and opens a channel or fails the test
func mustChannel(t *testing.T, factory *ConnectionFactory) (*Connection, *Channel) {
	t.Helper()

	ctx := context.Background()
	conn, err := factory.NewConnection(ctx)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	ch, err := conn.Channel(ctx)
	if err != nil {
		conn.Close(ctx)
		t.Fatalf("Failed to create channel: %v", err)
	}
	t.Cleanup(func() {
		if !conn.IsClosed() {
			conn.Close(context.Background())
		}
	})
	return conn, ch
}

func testName(t *testing.T, kind string) string {
	return fmt.Sprintf("test.%s.%s.%d", kind, t.Name(), time.Now().UnixNano())
}

// TestIntegrationPublishGet tests a publish and a synchronous get
func TestIntegrationPublishGet(t *testing.T) {
	factory := requireBroker(t)
	_, ch := mustChannel(t, factory)
	ctx := context.Background()

	q, err := ch.QueueDeclare(ctx, testName(t, "queue"), QueueDeclareOptions{AutoDelete: true})
	if err != nil {
		t.Fatalf("QueueDeclare failed: %v", err)
	}
	defer ch.QueueDelete(ctx, q.Name, QueueDeleteOptions{})

	err = ch.Publish("", q.Name, false, false, Publishing{
		Properties: Properties{ContentType: "text/plain", Headers: Table{"attempt": 1}},
		Body:       []byte("hello"),
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	var d *Delivery
	for i := 0; i < 50; i++ {
		var ok bool
		d, ok, err = ch.BasicGet(ctx, q.Name, false)
		if err != nil {
			t.Fatalf("BasicGet failed: %v", err)
		}
		if ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if d == nil {
		t.Fatal("message never arrived")
	}

	if string(d.Body) != "hello" {
		t.Errorf("Body: got %q, want %q", d.Body, "hello")
	}
	if d.Properties.ContentType != "text/plain" {
		t.Errorf("ContentType: got %q", d.Properties.ContentType)
	}
	if got, ok := d.Properties.Headers["attempt"].(int32); !ok || got != 1 {
		t.Errorf("Headers: got %#v", d.Properties.Headers)
	}
	if err := d.Ack(false); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
}

// TestIntegrationConsume tests consuming through a topic exchange
func TestIntegrationConsume(t *testing.T) {
	factory := requireBroker(t)
	_, ch := mustChannel(t, factory)
	ctx := context.Background()

	exchange := testName(t, "exchange")
	if err := ch.ExchangeDeclare(ctx, exchange, ExchangeTopic, ExchangeDeclareOptions{AutoDelete: true}); err != nil {
		t.Fatalf("ExchangeDeclare failed: %v", err)
	}
	defer ch.ExchangeDelete(ctx, exchange, ExchangeDeleteOptions{})

	q, err := ch.QueueDeclare(ctx, "", QueueDeclareOptions{Exclusive: true, AutoDelete: true})
	if err != nil {
		t.Fatalf("QueueDeclare failed: %v", err)
	}
	if err := ch.QueueBind(ctx, q.Name, exchange, "orders.*", nil); err != nil {
		t.Fatalf("QueueBind failed: %v", err)
	}
	if err := ch.Qos(ctx, 10, 0, false); err != nil {
		t.Fatalf("Qos failed: %v", err)
	}

	for _, key := range []string{"orders.created", "invoices.created", "orders.paid"} {
		if err := ch.Publish(exchange, key, false, false, Publishing{Body: []byte(key)}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	var got []string
	err = ch.ConsumeWithHandler(ctx, q.Name, "", ConsumeOptions{}, func(ctx context.Context, d *Delivery) error {
		got = append(got, d.RoutingKey)
		if err := d.Ack(false); err != nil {
			return err
		}
		if len(got) == 2 {
			return ErrStopConsuming
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ConsumeWithHandler failed: %v", err)
	}

	if len(got) != 2 || got[0] != "orders.created" || got[1] != "orders.paid" {
		t.Errorf("routing keys: got %v", got)
	}
}

// TestIntegrationConfirms tests publisher confirms
func TestIntegrationConfirms(t *testing.T) {
	factory := requireBroker(t)
	_, ch := mustChannel(t, factory)
	ctx := context.Background()

	q, err := ch.QueueDeclare(ctx, "", QueueDeclareOptions{Exclusive: true, AutoDelete: true})
	if err != nil {
		t.Fatalf("QueueDeclare failed: %v", err)
	}

	confirms := ch.NotifyPublish(make(chan Confirmation, 10))
	if err := ch.ConfirmSelect(ctx, false); err != nil {
		t.Fatalf("ConfirmSelect failed: %v", err)
	}

	const count = 3
	for i := 0; i < count; i++ {
		if err := ch.Publish("", q.Name, false, false, Publishing{Body: []byte("x")}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	// Confirms are read while a synchronous call waits for its reply.
	var acked uint64
	for i := 0; i < 50 && acked < count; i++ {
		if _, err := ch.QueueDeclarePassive(ctx, q.Name); err != nil {
			t.Fatalf("QueueDeclarePassive failed: %v", err)
		}
	drain:
		for {
			select {
			case c := <-confirms:
				if !c.Ack {
					t.Fatalf("message %d nacked", c.DeliveryTag)
				}
				acked = c.DeliveryTag
			default:
				break drain
			}
		}
		time.Sleep(20 * time.Millisecond)
	}

	if acked != count {
		t.Errorf("last confirmed tag: got %d, want %d", acked, count)
	}
	if ch.GetNextPublishSeqNo() != count+1 {
		t.Errorf("next publish seq: got %d", ch.GetNextPublishSeqNo())
	}
}

// TestIntegrationTransactions tests commit and rollback
func TestIntegrationTransactions(t *testing.T) {
	factory := requireBroker(t)
	_, ch := mustChannel(t, factory)
	ctx := context.Background()

	q, err := ch.QueueDeclare(ctx, "", QueueDeclareOptions{Exclusive: true, AutoDelete: true})
	if err != nil {
		t.Fatalf("QueueDeclare failed: %v", err)
	}
	if err := ch.TxSelect(ctx); err != nil {
		t.Fatalf("TxSelect failed: %v", err)
	}

	ch.Publish("", q.Name, false, false, Publishing{Body: []byte("rolled back")})
	if err := ch.TxRollback(ctx); err != nil {
		t.Fatalf("TxRollback failed: %v", err)
	}
	if _, ok, err := ch.BasicGet(ctx, q.Name, true); err != nil || ok {
		t.Fatalf("BasicGet after rollback: ok=%v err=%v", ok, err)
	}

	ch.Publish("", q.Name, false, false, Publishing{Body: []byte("committed")})
	if err := ch.TxCommit(ctx); err != nil {
		t.Fatalf("TxCommit failed: %v", err)
	}
	d, ok, err := ch.BasicGet(ctx, q.Name, true)
	if err != nil || !ok {
		t.Fatalf("BasicGet after commit: ok=%v err=%v", ok, err)
	}
	if string(d.Body) != "committed" {
		t.Errorf("Body: got %q", d.Body)
	}
}

// TestIntegrationPassiveDeclareMissing tests a channel closed by the server
func TestIntegrationPassiveDeclareMissing(t *testing.T) {
	factory := requireBroker(t)
	conn, ch := mustChannel(t, factory)
	ctx := context.Background()

	_, err := ch.QueueDeclarePassive(ctx, testName(t, "missing"))
	var se *SessionError
	if !errors.As(err, &se) || se.Code != NotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if !ch.IsClosed() {
		t.Error("channel should be closed")
	}
	if conn.IsClosed() {
		t.Error("connection should stay open")
	}

	ch2, err := conn.Channel(ctx)
	if err != nil {
		t.Fatalf("Channel failed: %v", err)
	}
	if _, err := ch2.QueueDeclare(ctx, "", QueueDeclareOptions{Exclusive: true, AutoDelete: true}); err != nil {
		t.Fatalf("QueueDeclare on new channel failed: %v", err)
	}
}
