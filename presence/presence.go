// Package presence turns decoded frame batches into tag sightings and
// detects tags that stopped reporting.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"intellikeeper/cascade"
	"intellikeeper/frame"
	"intellikeeper/metrics"
	"intellikeeper/store"
)

type LogFunc func(format string, args ...any)

// Cascader runs the callbacks of a tag event.
type Cascader interface {
	RunCallbacks(ctx context.Context, tag *store.Tag, kind cascade.Kind) (*store.Event, error)
}

// Emitter is the interface adapters must satisfy to bridge presence events to the engine.
type Emitter interface {
	EmitBatchReconciled(deviceID int64, observed, lost []int64, at time.Time)
}

type Config struct {
	DB       *store.DB
	Cascader Cascader
	Emitter  Emitter
	Metrics  *metrics.Metrics
	LogFunc  LogFunc
}

type Reconciler struct {
	db       *store.DB
	cascader Cascader
	emitter  Emitter
	metrics  *metrics.Metrics
	logFn    LogFunc
}

func New(c Config) *Reconciler {
	r := &Reconciler{
		db:       c.DB,
		cascader: c.Cascader,
		emitter:  c.Emitter,
		metrics:  c.Metrics,
		logFn:    c.LogFunc,
	}
	if r.logFn == nil {
		r.logFn = log.Printf
	}
	return r
}

// Result reports what one batch changed.
type Result struct {
	Observed []int64
	// Lost holds the tags flipped offline, as they were before the flip.
	Lost []*store.Tag
}

type readerResolver interface {
	GetOrCreateReader(ctx context.Context, rid int, deviceID int64) (*store.Reader, error)
}

// ResolveReader returns the reader rid of device, creating it on first
// sight. The empty-slot id resolves to nil without touching the store.
func (r *Reconciler) ResolveReader(ctx context.Context, rid uint16, deviceID int64) (*store.Reader, error) {
	return resolveReader(ctx, r.db, rid, deviceID)
}

func resolveReader(ctx context.Context, q readerResolver, rid uint16, deviceID int64) (*store.Reader, error) {
	if rid == frame.NoReader {
		return nil, nil
	}
	return q.GetOrCreateReader(ctx, int(rid), deviceID)
}

// RegisterReaders resolves every rid of a device's reader inventory.
func (r *Reconciler) RegisterReaders(ctx context.Context, deviceID int64, rids []uint16) ([]*store.Reader, error) {
	if _, err := r.db.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	var readers []*store.Reader
	for _, rid := range rids {
		rd, err := r.ResolveReader(ctx, rid, deviceID)
		if err != nil {
			return readers, fmt.Errorf("register reader %d: %w", rid, err)
		}
		if rd != nil {
			readers = append(readers, rd)
		}
	}
	return readers, nil
}

// ReconcileBatch records every frame as a sighting stamped with eventTime
// and marks its tag online, then flips offline the active online tags of
// the device that the batch did not report. Sightings and the flip commit
// together; lost_signal cascades run afterwards on the flipped snapshot.
// An empty batch is valid and loses every online tag.
func (r *Reconciler) ReconcileBatch(ctx context.Context, deviceID int64, eventTime time.Time, frames []frame.Frame) (*Result, error) {
	res := &Result{}
	err := r.db.WithTx(ctx, func(tx *store.Tx) error {
		dev, err := tx.LockDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		seen := make(map[int64]bool, len(frames))
		for _, f := range frames {
			tagID, err := r.record(ctx, tx, dev.ID, eventTime, f)
			if errors.Is(err, store.ErrTagDeviceConflict) {
				r.logFn("presence: device %d: skipping frame: %v", dev.ID, err)
				continue
			}
			if err != nil {
				return err
			}
			if !seen[tagID] {
				seen[tagID] = true
				res.Observed = append(res.Observed, tagID)
			}
		}
		res.Lost, err = tx.FlipStaleTagsOffline(ctx, dev.ID, res.Observed)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile device %d: %w", deviceID, err)
	}

	r.metrics.FramesDecoded(len(frames))
	r.metrics.LostSignal(len(res.Lost))
	lostIDs := make([]int64, len(res.Lost))
	for i, tag := range res.Lost {
		lostIDs[i] = tag.ID
		if _, err := r.cascader.RunCallbacks(ctx, tag, cascade.LostSignal); err != nil {
			r.logFn("presence: lost_signal cascade for tag %d: %v", tag.ID, err)
		}
	}
	if r.emitter != nil {
		r.emitter.EmitBatchReconciled(deviceID, res.Observed, lostIDs, eventTime)
	}
	return res, nil
}

func (r *Reconciler) record(ctx context.Context, tx *store.Tx, deviceID int64, eventTime time.Time, f frame.Frame) (int64, error) {
	track := &store.TagTrack{CreatedAt: eventTime}
	for i, rd := range f.Readings {
		reader, err := resolveReader(ctx, tx, rd.ReaderID, deviceID)
		if err != nil {
			return 0, fmt.Errorf("resolve reader %d: %w", rd.ReaderID, err)
		}
		if reader != nil {
			track.Readings[i].ReaderID = &reader.ID
		}
		track.Readings[i].Distance = float64(rd.Distance)
	}
	tag, err := tx.GetOrCreateTag(ctx, int(f.TagID), deviceID)
	if err != nil {
		return 0, err
	}
	track.TagID = tag.ID
	if err := tx.InsertTagTrack(ctx, track); err != nil {
		return 0, err
	}
	if err := tx.SetTagOnline(ctx, tag.ID, true); err != nil {
		return 0, err
	}
	return tag.ID, nil
}
