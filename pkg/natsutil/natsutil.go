// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation through message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Msg headers for the OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publisher is the part of *nats.Conn used for publishing.
type Publisher interface {
	PublishMsg(*nats.Msg) error
}

// NewMsg encodes v as JSON into a message for subject. Extra headers are
// copied and the trace context from ctx is injected.
func NewMsg[T any](ctx context.Context, subject string, v T, hdr nats.Header) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, vals := range hdr {
		for _, val := range vals {
			msg.Header.Add(k, val)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it to subject.
func Publish[T any](ctx context.Context, p Publisher, subject string, v T) error {
	return PublishWithHeader(ctx, p, subject, v, nil)
}

// PublishWithHeader is Publish with extra message headers.
func PublishWithHeader[T any](ctx context.Context, p Publisher, subject string, v T, hdr nats.Header) error {
	msg, err := NewMsg(ctx, subject, v, hdr)
	if err != nil {
		return err
	}
	if err := p.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// Decode unmarshals a JSON message and extracts its trace context.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return context.Background(), v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	return ctx, v, nil
}

// Subscribe registers a handler for JSON messages of type T. When queue is
// non-empty the subscription joins that queue group so each message reaches
// one worker. Malformed messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject, queue string, log *slog.Logger, handler func(context.Context, *nats.Msg, T)) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	cb := func(msg *nats.Msg) {
		ctx, v, err := Decode[T](msg)
		if err != nil {
			log.Error("natsutil: dropping malformed message", "subject", msg.Subject, "error", err)
			return
		}
		handler(ctx, msg, v)
	}
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, cb)
	}
	return nc.Subscribe(subject, cb)
}
