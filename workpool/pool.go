// Package workpool runs submitted jobs on a fixed set of goroutines behind a
// bounded queue. Submit never blocks: a full queue rejects the job.
package workpool

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrQueueFull          = errors.New("workpool: queue full")
	ErrPoolStopped        = errors.New("workpool: stopped")
	ErrPoolNotStarted     = errors.New("workpool: not started")
	ErrPoolAlreadyStarted = errors.New("workpool: already started")
	ErrStopTimeout        = errors.New("workpool: stop timed out")
)

// Pool processes values of type T with a single processor function.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	logFn     func(string, ...any)

	work chan T
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.GaugeFunc
	submitted  prometheus.Counter
	dropped    prometheus.Counter
	duration   *prometheus.HistogramVec
}

type Option[T any] func(*Pool[T])

// WithMetrics registers the pool's collectors under prefix. A nil
// registerer leaves the pool unmetered.
func WithMetrics[T any](reg prometheus.Registerer, prefix string) Option[T] {
	return func(p *Pool[T]) {
		if reg == nil || prefix == "" {
			return
		}
		p.metrics = newPoolMetrics(prefix, func() float64 { return float64(len(p.work)) })
		reg.MustRegister(p.metrics.queueDepth, p.metrics.submitted, p.metrics.dropped, p.metrics.duration)
	}
}

// WithLogFunc replaces log.Printf for panic reports.
func WithLogFunc[T any](fn func(string, ...any)) Option[T] {
	return func(p *Pool[T]) { p.logFn = fn }
}

func newPoolMetrics(prefix string, depth func() float64) *poolMetrics {
	return &poolMetrics{
		queueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Jobs waiting in the pool queue.",
		}, depth),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Jobs accepted by the pool.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Jobs rejected because the queue was full.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing jobs.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"status"}),
	}
}

func New[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if processor == nil {
		panic("workpool: nil processor")
	}
	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logFn:     log.Printf,
		work:      make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. They exit when ctx is cancelled or the pool
// is stopped and the queue has drained.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrPoolAlreadyStarted
	}
	if p.closed {
		return ErrPoolStopped
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

func (p *Pool[T]) Submit(job T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.closed {
		return ErrPoolStopped
	}
	select {
	case p.work <- job:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits up to timeout for queued jobs to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.closed {
		p.closed = true
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.work)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.work),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.work:
			if !ok {
				return
			}
			p.run(ctx, job)
		}
	}
}

// run processes one job; a panicking job counts as failed and does not take
// the worker down.
func (p *Pool[T]) run(ctx context.Context, job T) {
	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logFn("workpool: job panicked: %v", r)
				err = errors.New("panic")
			}
		}()
		err = p.processor(ctx, job)
	}()

	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
