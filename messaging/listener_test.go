package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellikeeper/cascade"
	"intellikeeper/metrics"
	"intellikeeper/store"
)

type fakeReader struct {
	msgs   chan kafka.Message
	err    error
	closed bool
	mu     sync.Mutex
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(values))}
	for _, v := range values {
		r.msgs <- kafka.Message{Value: []byte(v)}
	}
	return r
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	default:
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type call struct {
	name string
	args []any
}

type fakeIngestor struct {
	mu    sync.Mutex
	calls []call
	err   error
	done  chan struct{}
}

func (f *fakeIngestor) record(name string, args ...any) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{name, args})
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return f.err
}

func (f *fakeIngestor) IngestProps(ctx context.Context, dev string, at time.Time, tags string) error {
	return f.record("props", dev, tags)
}

func (f *fakeIngestor) SyncTagConfig(ctx context.Context, tid int) error {
	return f.record("sync", tid)
}

func (f *fakeIngestor) SensorException(ctx context.Context, tid int, kind cascade.Kind) error {
	return f.record("sensor", tid, kind)
}

func quiet(string, ...any) {}

func assertMessages(t *testing.T, m *metrics.Metrics, topic, result string, want int) {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	line := fmt.Sprintf(`intellikeeper_bus_messages_total{result=%q,topic=%q} %d`, result, topic, want)
	assert.Contains(t, rec.Body.String(), line)
}

func TestListener_SkipsBadMessagesAndKeepsGoing(t *testing.T) {
	m := metrics.New()
	ing := &fakeIngestor{done: make(chan struct{}, 4)}
	reader := newFakeReader(
		`garbage`,
		`{"device_id":"d1","services":[{"event_time":"2024-01-01T00:00:00Z","properties":{"tags":null}}]}`,
	)
	l := NewListener("saveProps", reader, PropsHandler(ing), time.Second, m, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	select {
	case <-ing.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	cancel()
	require.NoError(t, <-errCh)

	assert.True(t, reader.closed)
	require.Len(t, ing.calls, 1)
	assert.Equal(t, call{"props", []any{"d1", ""}}, ing.calls[0])
	assertMessages(t, m, "saveProps", metrics.MessageSkipped, 1)
	assertMessages(t, m, "saveProps", metrics.MessageOK, 1)
}

func TestListener_ReaderFailureEndsRun(t *testing.T) {
	reader := newFakeReader()
	reader.err = errors.New("broker gone")
	l := NewListener("sensorException", reader, SensorHandler(&fakeIngestor{}), time.Second, nil, quiet)

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
}

func TestListener_RecoversPanics(t *testing.T) {
	reader := newFakeReader(`a`, `b`)
	var seen []string
	handle := func(ctx context.Context, v []byte) error {
		seen = append(seen, string(v))
		if string(v) == "a" {
			panic("boom")
		}
		return nil
	}
	reader.err = errors.New("eof")
	l := NewListener("t", reader, handle, time.Second, nil, quiet)
	require.Error(t, l.Run(context.Background()))
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestListener_HandlerOutlivesCancel(t *testing.T) {
	reader := newFakeReader(`x`)
	ctx, cancel := context.WithCancel(context.Background())
	var handlerErr error
	handle := func(hctx context.Context, v []byte) error {
		cancel()
		handlerErr = hctx.Err()
		return nil
	}
	l := NewListener("t", reader, handle, time.Second, nil, quiet)
	require.NoError(t, l.Run(ctx))
	assert.NoError(t, handlerErr)
}

func TestHandlers_Route(t *testing.T) {
	ctx := context.Background()
	ing := &fakeIngestor{}

	require.NoError(t, ConfigSyncHandler(ing)(ctx, []byte(`{"data":"c\u0000\u0005"}`)))
	require.NoError(t, SensorHandler(ing)(ctx, []byte(`{"data":"s\u0000\u0005\u0000"}`)))
	require.NoError(t, SensorHandler(ing)(ctx, []byte(`{"data":"s\u0000\u0005\u0001"}`)))

	err := SensorHandler(ing)(ctx, []byte(`{"data":"s\u0000\u0005\u0002"}`))
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))

	assert.Equal(t, []call{
		{"sync", []any{5}},
		{"sensor", []any{5, cascade.Unmask}},
		{"sensor", []any{5, cascade.Moved}},
	}, ing.calls)
}

func TestListener_NotFoundIsSkipped(t *testing.T) {
	m := metrics.New()
	ing := &fakeIngestor{err: store.ErrNotFound}
	reader := newFakeReader(`{"data":"c\u0000\u0005"}`)
	reader.err = errors.New("eof")
	l := NewListener("watchConfigSyncReq", reader, ConfigSyncHandler(ing), time.Second, m, quiet)
	require.Error(t, l.Run(context.Background()))
	assertMessages(t, m, "watchConfigSyncReq", metrics.MessageSkipped, 1)
}
