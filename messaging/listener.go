package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"intellikeeper/frame"
	"intellikeeper/metrics"
	"intellikeeper/store"
)

type LogFunc func(format string, args ...any)

// HandlerFunc processes one message value.
type HandlerFunc func(ctx context.Context, value []byte) error

// Listener consumes one topic one message at a time.
type Listener struct {
	topic   string
	reader  MessageReader
	handle  HandlerFunc
	timeout time.Duration
	metrics *metrics.Metrics
	logFn   LogFunc
}

func NewListener(topic string, reader MessageReader, handle HandlerFunc, timeout time.Duration, m *metrics.Metrics, logFn LogFunc) *Listener {
	if logFn == nil {
		logFn = log.Printf
	}
	return &Listener{
		topic:   topic,
		reader:  reader,
		handle:  handle,
		timeout: timeout,
		metrics: m,
		logFn:   logFn,
	}
}

func (l *Listener) Topic() string { return l.topic }

// Run blocks until ctx is cancelled or the reader fails. A message already
// being handled when ctx is cancelled runs to completion. Bad messages are
// logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	defer l.reader.Close()
	l.logFn("listener %s: started", l.topic)
	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logFn("listener %s: stopped", l.topic)
				return nil
			}
			return fmt.Errorf("listener %s: read: %w", l.topic, err)
		}
		l.process(ctx, msg.Value)
	}
}

func (l *Listener) process(ctx context.Context, value []byte) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			l.logFn("listener %s: panic handling message: %v\n%s", l.topic, r, debug.Stack())
			l.metrics.Message(l.topic, metrics.MessageFailed)
		}
	}()

	err := l.handle(hctx, value)
	switch {
	case err == nil:
		l.metrics.Message(l.topic, metrics.MessageOK)
	case errors.Is(err, ErrMalformedEnvelope), errors.Is(err, frame.ErrMalformedFrameStream), errors.Is(err, store.ErrNotFound):
		l.logFn("listener %s: skipping message: %v", l.topic, err)
		l.metrics.Message(l.topic, metrics.MessageSkipped)
	default:
		l.logFn("listener %s: %v", l.topic, err)
		l.metrics.Message(l.topic, metrics.MessageFailed)
	}
}
