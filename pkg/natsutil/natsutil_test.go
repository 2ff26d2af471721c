package natsutil

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type job struct {
	Name  string `json:"name"`
	Pages int    `json:"pages"`
}

type capturePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (c *capturePublisher) PublishMsg(m *nats.Msg) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

func TestNewMsgCopiesHeaders(t *testing.T) {
	msg, err := NewMsg(context.Background(), "jobs", job{Name: "a"}, nats.Header{"X-Retry-Count": {"2"}})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subject != "jobs" || msg.Header.Get("X-Retry-Count") != "2" {
		t.Fatalf("unexpected msg: %+v", msg)
	}
}

func TestPublishError(t *testing.T) {
	p := &capturePublisher{err: errors.New("closed")}
	if err := Publish(context.Background(), p, "jobs", job{}); err == nil {
		t.Fatal("expected publish error")
	}
	if len(p.msgs) != 1 {
		t.Fatal("expected one publish attempt")
	}
}

func TestTracePropagation(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	p := &capturePublisher{}
	if err := Publish(ctx, p, "jobs", job{Name: "traced"}); err != nil {
		t.Fatal(err)
	}
	gotCtx, got, err := Decode[job](p.msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "traced" {
		t.Fatalf("decoded %+v", got)
	}
	if trace.SpanContextFromContext(gotCtx).TraceID() != traceID {
		t.Fatal("trace id not propagated")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, _, err := Decode[job](&nats.Msg{Subject: "jobs", Data: []byte("{")}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSubscribeQueueGroup(t *testing.T) {
	nc := startTestNATS(t)

	got := make(chan job, 4)
	for i := 0; i < 2; i++ {
		sub, err := Subscribe(nc, "jobs.q", "workers", nil, func(_ context.Context, _ *nats.Msg, j job) {
			got <- j
		})
		if err != nil {
			t.Fatal(err)
		}
		defer sub.Unsubscribe()
	}

	if err := nc.Publish("jobs.q", []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := Publish(context.Background(), nc, "jobs.q", job{Name: "manual.pdf", Pages: 3}); err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	select {
	case j := <-got:
		if j.Name != "manual.pdf" || j.Pages != 3 {
			t.Fatalf("unexpected job: %+v", j)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	select {
	case j := <-got:
		t.Fatalf("queue group delivered twice: %+v", j)
	case <-time.After(100 * time.Millisecond):
	}
}
