// Package cascade records tag events and fans them out to the triggers bound
// at tag, category, device and account scope.
package cascade

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"intellikeeper/store"
	"intellikeeper/trigger"
)

type LogFunc func(format string, args ...any)

// Dispatcher receives every trigger selected by a cascade. Implementations
// must not block on the outbound call.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv trigger.Invocation)
}

// Emitter is the interface adapters must satisfy to bridge cascade events to the engine.
type Emitter interface {
	EmitEventRecorded(eventID, tagID int64, kind string, code int)
}

type Config struct {
	DB         *store.DB
	Dispatcher Dispatcher
	Emitter    Emitter
	// MaxCategoryDepth bounds the upward category walk.
	MaxCategoryDepth int
	Now              func() time.Time
	LogFunc          LogFunc
}

type Engine struct {
	db         *store.DB
	dispatcher Dispatcher
	emitter    Emitter
	maxDepth   int
	now        func() time.Time
	logFn      LogFunc
}

func New(c Config) *Engine {
	e := &Engine{
		db:         c.DB,
		dispatcher: c.Dispatcher,
		emitter:    c.Emitter,
		maxDepth:   c.MaxCategoryDepth,
		now:        c.Now,
		logFn:      c.LogFunc,
	}
	if e.maxDepth <= 0 {
		e.maxDepth = 32
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logFn == nil {
		e.logFn = log.Printf
	}
	return e
}

// RunCallbacks records an event for tag and dispatches every active callback
// in tier order: tag, category chain leaf to root, device, account.
// Triggers bound at several tiers are dispatched once per tier.
func (e *Engine) RunCallbacks(ctx context.Context, tag *store.Tag, kind Kind) (*store.Event, error) {
	code, err := kind.Code()
	if err != nil {
		return nil, err
	}
	text, _ := kind.Display()

	ev := &store.Event{
		Name:      tag.Name + text,
		CausedBy:  code,
		TagID:     tag.ID,
		CreatedAt: e.now(),
	}
	if err := e.db.InsertEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("record %s event for tag %d: %w", kind, tag.ID, err)
	}
	if e.emitter != nil {
		e.emitter.EmitEventRecorded(ev.ID, tag.ID, string(kind), code)
	}

	device, err := e.db.GetDevice(ctx, tag.DeviceID)
	if err != nil {
		return ev, fmt.Errorf("cascade tag %d: %w", tag.ID, err)
	}
	chain := e.categoryChain(ctx, tag)
	base := trigger.Invocation{
		Tag:       tag,
		Device:    device,
		TagPath:   pathOf(chain),
		Kind:      string(kind),
		EventCode: code,
	}

	e.dispatchScope(ctx, base, store.ScopeTag, tag.ID)
	for _, cat := range chain {
		e.dispatchScope(ctx, base, store.ScopeCategory, cat.ID)
	}
	e.dispatchScope(ctx, base, store.ScopeDevice, device.ID)
	if device.OwnerID != nil {
		e.dispatchScope(ctx, base, store.ScopeAccount, *device.OwnerID)
	}
	return ev, nil
}

func (e *Engine) dispatchScope(ctx context.Context, base trigger.Invocation, scope store.Scope, target int64) {
	cbs, err := e.db.ListCallbacks(ctx, scope, target)
	if err != nil {
		e.logFn("cascade: list %s callbacks for %d: %v", scope, target, err)
		return
	}
	for _, cb := range cbs {
		if !cb.IsActive {
			continue
		}
		inv := base
		inv.ID = uuid.NewString()
		inv.Trigger = cb.Trigger
		inv.Scope = scope
		e.dispatcher.Dispatch(ctx, inv)
	}
}

// Invocation builds the dispatch input for invoking one trigger directly
// against tag, outside of any cascade.
func (e *Engine) Invocation(ctx context.Context, trig *store.Trigger, tag *store.Tag, kind Kind) (trigger.Invocation, error) {
	code, err := kind.Code()
	if err != nil {
		return trigger.Invocation{}, err
	}
	device, err := e.db.GetDevice(ctx, tag.DeviceID)
	if err != nil {
		return trigger.Invocation{}, err
	}
	return trigger.Invocation{
		ID:        uuid.NewString(),
		Trigger:   trig,
		Tag:       tag,
		Device:    device,
		TagPath:   pathOf(e.categoryChain(ctx, tag)),
		Kind:      string(kind),
		EventCode: code,
	}, nil
}

// TagPath returns the tag's category breadcrumb, root first, joined by "/".
func (e *Engine) TagPath(ctx context.Context, tag *store.Tag) string {
	return pathOf(e.categoryChain(ctx, tag))
}

// categoryChain walks from the tag's category to the root. The walk stops
// at a missing parent, a repeated category or after maxDepth levels.
func (e *Engine) categoryChain(ctx context.Context, tag *store.Tag) []*store.Category {
	var chain []*store.Category
	seen := make(map[int64]bool)
	next := tag.CategoryID
	for next != nil {
		if seen[*next] {
			e.logFn("cascade: category cycle at %d for tag %d", *next, tag.ID)
			break
		}
		if len(chain) >= e.maxDepth {
			e.logFn("cascade: category depth limit %d reached for tag %d", e.maxDepth, tag.ID)
			break
		}
		seen[*next] = true
		cat, err := e.db.GetCategory(ctx, *next)
		if err != nil {
			e.logFn("cascade: category %d: %v", *next, err)
			break
		}
		chain = append(chain, cat)
		next = cat.ParentID
	}
	return chain
}

func pathOf(chain []*store.Category) string {
	names := make([]string, len(chain))
	for i, cat := range chain {
		names[len(chain)-1-i] = cat.Name
	}
	return strings.Join(names, "/")
}
