// Package tagstate keeps a Redis mirror of which tags each device currently
// sees. SQL stays authoritative; reads fall back to it whenever the mirror
// is missing or unreachable.
package tagstate

import (
	"context"
	"log"
	"sort"
	"time"

	"intellikeeper/store"
)

type LogFunc func(format string, args ...any)

// Cache is the mirror backend. RedisStore is the production implementation.
type Cache interface {
	ApplyBatch(ctx context.Context, deviceID int64, observed, lost []int64, at time.Time) error
	ReplaceOnline(ctx context.Context, deviceID int64, online []int64) error
	Online(ctx context.Context, deviceID int64) ([]int64, bool, error)
	Invalidate(ctx context.Context, deviceID int64) error
	LastSeen(ctx context.Context, tagID int64) (time.Time, bool, error)
}

type Manager struct {
	db    *store.DB
	cache Cache
	logFn LogFunc
}

// NewManager accepts a nil cache, in which case every read goes to SQL.
func NewManager(db *store.DB, cache Cache, logFn LogFunc) *Manager {
	if logFn == nil {
		logFn = log.Printf
	}
	return &Manager{db: db, cache: cache, logFn: logFn}
}

// ApplyBatch updates the mirror after a committed reconcile. Failures are
// logged and the device mirror dropped so later reads use SQL.
func (m *Manager) ApplyBatch(ctx context.Context, deviceID int64, observed, lost []int64, at time.Time) {
	if m.cache == nil {
		return
	}
	if err := m.cache.ApplyBatch(ctx, deviceID, observed, lost, at); err != nil {
		m.logFn("tagstate: mirror batch for device %d: %v", deviceID, err)
		if err := m.cache.Invalidate(ctx, deviceID); err != nil {
			m.logFn("tagstate: invalidate device %d: %v", deviceID, err)
		}
	}
}

// Invalidate drops the device's mirror so the next read rebuilds it.
func (m *Manager) Invalidate(ctx context.Context, deviceID int64) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, deviceID); err != nil {
		m.logFn("tagstate: invalidate device %d: %v", deviceID, err)
	}
}

// OnlineTags returns the ids of the device's online tags, sorted.
func (m *Manager) OnlineTags(ctx context.Context, deviceID int64) ([]int64, error) {
	if m.cache != nil {
		ids, ok, err := m.cache.Online(ctx, deviceID)
		if err != nil {
			m.logFn("tagstate: read mirror for device %d: %v", deviceID, err)
		} else if ok {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			return ids, nil
		}
	}

	if _, err := m.db.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	ids, err := m.db.ListOnlineTagIDs(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if err := m.cache.ReplaceOnline(ctx, deviceID, ids); err != nil {
			m.logFn("tagstate: rebuild mirror for device %d: %v", deviceID, err)
		}
	}
	return ids, nil
}

// LastSeen returns the event time of the tag's latest sighting, if mirrored.
func (m *Manager) LastSeen(ctx context.Context, tagID int64) (time.Time, bool) {
	if m.cache == nil {
		return time.Time{}, false
	}
	t, ok, err := m.cache.LastSeen(ctx, tagID)
	if err != nil {
		m.logFn("tagstate: last seen for tag %d: %v", tagID, err)
		return time.Time{}, false
	}
	return t, ok
}
