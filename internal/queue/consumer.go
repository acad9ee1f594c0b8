package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SettlementConsumer listens to the session.settled queue and appends one
// line per event to <Dir>/settlement.log.
type SettlementConsumer struct {
	URL string
	Dir string
	Log *slog.Logger
}

// NewSettlementConsumer returns a consumer writing into dir ("logs" when
// empty).
func NewSettlementConsumer(url, dir string, logger *slog.Logger) *SettlementConsumer {
	if dir == "" {
		dir = "logs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementConsumer{URL: url, Dir: dir, Log: logger.With("component", "settlement_consumer")}
}

// Run connects to RabbitMQ, declares the queue (durable) and consumes
// messages until ctx is cancelled.  Broker failures are retried with
// exponential backoff so the server keeps operating without a broker.
func (c *SettlementConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		// Dial failures double the wait up to 30s; the HTTP server keeps
		// serving meanwhile since this runs in its own goroutine.
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn("failed to dial broker", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		// consumeLoop returns when the channel or connection drops.  Close
		// what is left and dial again after a short pause unless we are
		// shutting down.
		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn("consume loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *SettlementConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// At most 50 unacknowledged deliveries in flight; a failed QoS call is
	// not fatal, the broker then simply pushes without a limit.
	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn("set QoS failed", "err", err)
	}

	// Declare the queue durable so events published while the consumer
	// was down are still waiting for it.  Declaring is idempotent and
	// matches the publisher's declaration.
	if _, err := ch.QueueDeclare(SessionSettledQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	// Manual acknowledgements: a message is acked only after its line is
	// on disk.
	msgs, err := ch.Consume(SessionSettledQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.HandleMessage(d.Body); err != nil {
				// A message that failed once (bad JSON, missing session_id,
				// unwritable log dir) will fail again.  Requeueing it would
				// spin the consumer on the same delivery, so it is dropped
				// and the error is logged instead.
				c.Log.Error("handle message failed", "err", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one event and appends it to the settlement log.
func (c *SettlementConsumer) HandleMessage(body []byte) error {
	var ev SessionSettledEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.SessionID == "" {
		return errors.New("event without session_id")
	}
	// Ensure the log directory exists, then append one line per event.
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.Dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.Dir, "settlement.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Session settled | session_id=%s | payment_id=%s | expert=%s | shopper=%s | amount=%d | expert_share=%d | platform_share=%d | tx=%s\n",
		ev.SettledAt, ev.SessionID, ev.PaymentID, ev.Expert, ev.Shopper, ev.Amount, ev.ExpertShare, ev.PlatformShare, ev.TransactionHash)

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
