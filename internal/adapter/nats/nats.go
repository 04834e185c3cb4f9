// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/quarryhq/quarry/internal/logger"
	"github.com/quarryhq/quarry/internal/port/messagequeue"
)

const (
	streamName = "QUARRY"

	headerRequestID  = "Request-Id"
	headerRetryCount = "Retry-Count"

	// maxRetries is the number of handler attempts before a message is
	// parked on its .dlq subject.
	maxRetries = 3
)

// Queue implements messagequeue.Queue using NATS JetStream.
//
// Messages that fail schema validation go straight to the dead letter
// subject (<subject>.dlq inside the same stream). Messages whose handler
// fails are republished with an incremented Retry-Count header until
// maxRetries, then parked on the dead letter subject.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"events.>", "deliveries.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Publish sends a message to the given subject. A request ID present in
// ctx travels with the message as a header; one is minted if absent so every
// message chain is traceable.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	reqID := logger.RequestID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	msg.Header.Set(headerRequestID, reqID)

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handleMsg(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) handleMsg(msg jetstream.Msg, handler messagequeue.Handler) {
	subject := msg.Subject()
	hdrs := msg.Headers()

	// Validation failures never succeed on retry; park them immediately.
	if err := messagequeue.Validate(subject, msg.Data()); err != nil {
		slog.Error("message validation failed", "subject", subject, "error", err)
		q.moveToDLQ(msg)
		ack(msg)
		return
	}

	msgCtx := context.Background()
	if reqID := hdrs.Get(headerRequestID); reqID != "" {
		msgCtx = logger.WithRequestID(msgCtx, reqID)
	}

	if err := handler(msgCtx, subject, msg.Data()); err != nil {
		retries := retryCount(hdrs)
		if retries >= maxRetries {
			slog.Error("message retries exhausted", "subject", subject, "retries", retries, "error", err)
			q.moveToDLQ(msg)
			ack(msg)
			return
		}

		slog.Warn("message handler failed, requeueing", "subject", subject, "retry", retries+1, "error", err)
		q.requeue(msg, retries+1)
		ack(msg)
		return
	}

	ack(msg)
}

// requeue republishes the message with an incremented retry counter.
func (q *Queue) requeue(msg jetstream.Msg, retries int) {
	out := &nats.Msg{
		Subject: msg.Subject(),
		Data:    msg.Data(),
		Header:  cloneHeader(msg.Headers()),
	}
	out.Header.Set(headerRetryCount, strconv.Itoa(retries))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		slog.Error("nats requeue failed", "subject", msg.Subject(), "error", err)
	}
}

// moveToDLQ publishes the raw message data to <subject>.dlq.
func (q *Queue) moveToDLQ(msg jetstream.Msg) {
	out := &nats.Msg{
		Subject: msg.Subject() + ".dlq",
		Data:    msg.Data(),
		Header:  cloneHeader(msg.Headers()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		slog.Error("nats DLQ publish failed", "subject", out.Subject, "error", err)
	}
}

// KeyValue returns (creating if needed) a JetStream key-value bucket with
// the given per-entry TTL.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats keyvalue %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains all subscriptions before closing the connection.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc != nil && q.nc.IsConnected()
}

func retryCount(h nats.Header) int {
	if h == nil {
		return 0
	}
	n, err := strconv.Atoi(h.Get(headerRetryCount))
	if err != nil {
		return 0
	}
	return n
}

func cloneHeader(h nats.Header) nats.Header {
	out := nats.Header{}
	for k, vs := range h {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}

func ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "subject", msg.Subject(), "error", err)
	}
}
