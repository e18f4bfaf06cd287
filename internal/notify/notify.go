// Package notify publishes document lifecycle events to citizens' channels.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/and161185/docvault/internal/model"
	"github.com/and161185/docvault/internal/obs"
)

// Notifier delivers one event synchronously.
type Notifier interface {
	Notify(ctx context.Context, ev model.Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON keyed by document id, so all events of one
// document land on the same partition in order.
type Kafka struct {
	w     messageWriter
	topic string
}

// NewKafka constructs a Kafka notifier writing to topic.
func NewKafka(brokers []string, topic string, log *zap.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error("failed to write kafka messages",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}
	return &Kafka{w: w, topic: topic}
}

// Notify implements Notifier.
func (k *Kafka) Notify(ctx context.Context, ev model.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     []byte(ev.DocumentID.String()),
		Value:   b,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(ev.Type)}},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to %s: %w", ev.Type, k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.w.Close() }

// Log writes events to the logger only. Used when no broker is configured.
type Log struct{ log *zap.Logger }

// NewLog constructs a log-only notifier.
func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, ev model.Event) error {
	l.log.Info("document event",
		zap.String("type", string(ev.Type)),
		zap.String("document_id", ev.DocumentID.String()),
		zap.String("owner_id", ev.OwnerID.String()),
	)
	return nil
}

// Dispatcher sends events in the background so lifecycle operations never
// wait on or fail because of delivery.
type Dispatcher struct {
	n       Notifier
	log     *zap.Logger
	metrics *obs.Metrics
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wraps n.
func NewDispatcher(n Notifier, log *zap.Logger, m *obs.Metrics) *Dispatcher {
	return &Dispatcher{n: n, log: log, metrics: m, timeout: 5 * time.Second}
}

// Publish delivers ev asynchronously; failures are logged and counted.
func (d *Dispatcher) Publish(ev model.Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.n.Notify(ctx, ev); err != nil {
			d.metrics.NotifyFailed()
			d.log.Warn("notification failed",
				zap.String("type", string(ev.Type)),
				zap.String("document_id", ev.DocumentID.String()),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() { d.wg.Wait() }
