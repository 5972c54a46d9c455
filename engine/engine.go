// Package engine owns the presence, cascade and trigger collaborators and
// exposes the synchronous operations used by the listeners and the admin
// HTTP surface.
package engine

import (
	"context"
	"log"
	"time"

	"intellikeeper/cascade"
	"intellikeeper/config"
	"intellikeeper/devicecmd"
	"intellikeeper/metrics"
	"intellikeeper/presence"
	"intellikeeper/store"
	"intellikeeper/tagstate"
	"intellikeeper/trigger"
	"intellikeeper/workpool"
)

type LogFunc func(format string, args ...any)

type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	Metrics   *metrics.Metrics
	// Cache mirrors online tag sets. Nil keeps every read on SQL.
	Cache  tagstate.Cache
	SMS    trigger.SMSSender
	Mailer trigger.Mailer
	// Caller defaults to an HTTPCaller using dispatch.http_timeout.
	Caller trigger.Caller
	// SyncDispatch runs triggers inline instead of on the worker pool.
	SyncDispatch bool
	Now          func() time.Time
	LogFunc      LogFunc
}

type Engine struct {
	cfg      *config.Config
	db       *store.DB
	metrics  *metrics.Metrics
	tagState *tagstate.Manager
	invoker  *trigger.Dispatcher
	cascade  *cascade.Engine
	presence *presence.Reconciler
	commands *devicecmd.Queue
	pool     *workpool.Pool[trigger.Invocation]
	Events   *EventBus
	logFn    LogFunc
	cancel   context.CancelFunc
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	cfg := c.AppConfig
	if cfg == nil {
		cfg = config.Defaults()
	}
	e := &Engine{
		cfg:     cfg,
		db:      c.DB,
		metrics: c.Metrics,
		Events:  NewEventBus(),
		logFn:   logFn,
	}

	caller := c.Caller
	if caller == nil {
		caller = trigger.NewHTTPCaller(cfg.Dispatch.HTTPTimeout)
	}
	e.invoker = trigger.NewDispatcher(trigger.Config{
		SMS:     c.SMS,
		Mailer:  c.Mailer,
		Caller:  caller,
		Subject: cfg.Alarms.Email.Subject,
		Metrics: c.Metrics,
		LogFunc: trigger.LogFunc(logFn),
	})
	if !c.SyncDispatch {
		e.pool = workpool.New(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, e.invoke,
			workpool.WithMetrics[trigger.Invocation](c.Metrics.Registerer(), "intellikeeper_dispatch"),
			workpool.WithLogFunc[trigger.Invocation](logFn),
		)
	}

	e.tagState = tagstate.NewManager(c.DB, c.Cache, tagstate.LogFunc(logFn))
	e.cascade = cascade.New(cascade.Config{
		DB:               c.DB,
		Dispatcher:       e,
		Emitter:          &cascadeEmitter{bus: e.Events},
		MaxCategoryDepth: cfg.Cascade.MaxCategoryDepth,
		Now:              c.Now,
		LogFunc:          cascade.LogFunc(logFn),
	})
	e.presence = presence.New(presence.Config{
		DB:       c.DB,
		Cascader: e.cascade,
		Emitter:  &presenceEmitter{bus: e.Events},
		Metrics:  c.Metrics,
		LogFunc:  presence.LogFunc(logFn),
	})
	e.commands = devicecmd.NewQueue(c.DB, cfg.MQTT.CommandTopicPrefix)
	e.wireEventHandlers()
	return e
}

// Start launches the dispatch workers. They outlive ctx until Stop so queued
// triggers are not lost on shutdown.
func (e *Engine) Start(ctx context.Context) error {
	if e.pool == nil {
		e.logFn("engine: started (inline dispatch)")
		return nil
	}
	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	if err := e.pool.Start(poolCtx); err != nil {
		cancel()
		return err
	}
	e.logFn("engine: started")
	return nil
}

// Stop waits up to dispatch.stop_timeout for queued triggers.
func (e *Engine) Stop() {
	if e.pool != nil {
		if err := e.pool.Stop(e.cfg.Dispatch.StopTimeout); err != nil {
			e.logFn("engine: stop dispatch pool: %v", err)
		}
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.logFn("engine: stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                  { return e.db }
func (e *Engine) AppConfig() *config.Config      { return e.cfg }
func (e *Engine) Metrics() *metrics.Metrics      { return e.metrics }
func (e *Engine) TagState() *tagstate.Manager    { return e.tagState }
func (e *Engine) Cascade() *cascade.Engine       { return e.cascade }
func (e *Engine) Presence() *presence.Reconciler { return e.presence }

// DispatchStats reports the worker pool counters, zero with inline dispatch.
func (e *Engine) DispatchStats() workpool.Stats {
	if e.pool == nil {
		return workpool.Stats{}
	}
	return e.pool.Stats()
}

// Dispatch hands one invocation to the worker pool, or runs it inline. A
// full queue drops the invocation.
func (e *Engine) Dispatch(ctx context.Context, inv trigger.Invocation) {
	if e.pool == nil {
		e.invoke(ctx, inv)
		return
	}
	if err := e.pool.Submit(inv); err != nil {
		e.metrics.Dispatch(metrics.DispatchDropped)
		e.logFn("engine: dropped trigger %d for tag %d: %v", inv.Trigger.ID, inv.Tag.ID, err)
	}
}

func (e *Engine) invoke(ctx context.Context, inv trigger.Invocation) error {
	err := e.invoker.Invoke(ctx, inv)
	if err != nil {
		e.logFn("engine: invocation %s: %v", inv.ID, err)
	}
	return err
}
