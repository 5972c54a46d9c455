package engine

import (
	"context"
	"fmt"
	"time"

	"intellikeeper/cascade"
	"intellikeeper/devicecmd"
	"intellikeeper/frame"
	"intellikeeper/presence"
	"intellikeeper/store"
)

// The operations below behave the same whether a listener or an admin
// request calls them. Unknown ids surface as store.ErrNotFound.

// IngestProps reconciles one property report. The frame stream is decoded
// before the device is looked up, so a malformed stream is rejected even
// for unknown devices.
func (e *Engine) IngestProps(ctx context.Context, deviceExternalID string, eventTime time.Time, tagsHex string) error {
	frames, err := frame.DecodeHex(tagsHex)
	if err != nil {
		e.metrics.MalformedBatch()
		return fmt.Errorf("device %s: %w", deviceExternalID, err)
	}
	dev, err := e.db.GetDeviceByExternalID(ctx, deviceExternalID)
	if err != nil {
		return err
	}
	_, err = e.presence.ReconcileBatch(ctx, dev.ID, eventTime, frames)
	return err
}

// ReconcileBatch runs one reconciliation for a device given by id.
func (e *Engine) ReconcileBatch(ctx context.Context, deviceID int64, eventTime time.Time, tagsHex string) (*presence.Result, error) {
	frames, err := frame.DecodeHex(tagsHex)
	if err != nil {
		e.metrics.MalformedBatch()
		return nil, err
	}
	if _, err := e.db.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return e.presence.ReconcileBatch(ctx, deviceID, eventTime, frames)
}

// RunCallbacks records a kind event for the tag and cascades it.
func (e *Engine) RunCallbacks(ctx context.Context, tagID int64, kind cascade.Kind) (*store.Event, error) {
	tag, err := e.db.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	return e.cascade.RunCallbacks(ctx, tag, kind)
}

// SensorException cascades a sensor event reported by tid.
func (e *Engine) SensorException(ctx context.Context, tid int, kind cascade.Kind) error {
	tag, err := e.db.GetTagByTID(ctx, tid)
	if err != nil {
		return err
	}
	_, err = e.cascade.RunCallbacks(ctx, tag, kind)
	return err
}

// InvokeTrigger dispatches one trigger against a tag outside any cascade and
// returns the invocation id.
func (e *Engine) InvokeTrigger(ctx context.Context, triggerID, tagID int64, kind cascade.Kind) (string, error) {
	trig, err := e.db.GetTrigger(ctx, triggerID)
	if err != nil {
		return "", err
	}
	tag, err := e.db.GetTag(ctx, tagID)
	if err != nil {
		return "", err
	}
	inv, err := e.cascade.Invocation(ctx, trig, tag, kind)
	if err != nil {
		return "", err
	}
	e.Dispatch(ctx, inv)
	return inv.ID, nil
}

// ResolveReader returns the reader rid of a device, creating it on first
// sight. The empty-slot id returns nil.
func (e *Engine) ResolveReader(ctx context.Context, deviceID int64, rid uint16) (*store.Reader, error) {
	if _, err := e.db.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return e.presence.ResolveReader(ctx, rid, deviceID)
}

// RegisterReaders records a device's reader inventory reply.
func (e *Engine) RegisterReaders(ctx context.Context, deviceID int64, readersHex string) ([]*store.Reader, error) {
	rids, err := frame.DecodeReaderList(readersHex)
	if err != nil {
		return nil, err
	}
	return e.presence.RegisterReaders(ctx, deviceID, rids)
}

// RequestReaders asks a device for its reader inventory.
func (e *Engine) RequestReaders(ctx context.Context, deviceID int64) (int64, error) {
	dev, err := e.db.GetDevice(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	return e.queue(ctx, dev, devicecmd.ListReaders(dev))
}

// FindTag asks the tag's device to make the tag signal its position.
func (e *Engine) FindTag(ctx context.Context, tagID int64) (int64, error) {
	tag, dev, err := e.tagAndDevice(ctx, tagID)
	if err != nil {
		return 0, err
	}
	return e.queue(ctx, dev, devicecmd.Locate(tag, dev))
}

// SyncTag pushes the tag's sensor configuration to its device.
func (e *Engine) SyncTag(ctx context.Context, tagID int64) (int64, error) {
	tag, dev, err := e.tagAndDevice(ctx, tagID)
	if err != nil {
		return 0, err
	}
	return e.queue(ctx, dev, devicecmd.SensorConfig(tag, dev))
}

// SyncTagConfig answers a device's configuration request for tid.
func (e *Engine) SyncTagConfig(ctx context.Context, tid int) error {
	tag, err := e.db.GetTagByTID(ctx, tid)
	if err != nil {
		return err
	}
	_, err = e.SyncTag(ctx, tag.ID)
	return err
}

// SetTagActive changes the tag's status and pushes the resulting sensor
// configuration.
func (e *Engine) SetTagActive(ctx context.Context, tagID int64, active bool) error {
	tag, err := e.db.GetTag(ctx, tagID)
	if err != nil {
		return err
	}
	if err := e.db.SetTagActive(ctx, tagID, active); err != nil {
		return err
	}
	e.Events.Emit(Event{Type: EventTagStatusChanged, Payload: TagStatusChangedEvent{TagID: tagID, DeviceID: tag.DeviceID, IsActive: active}})
	_, err = e.SyncTag(ctx, tagID)
	return err
}

func (e *Engine) SetTriggerActive(ctx context.Context, triggerID int64, active bool) error {
	return e.db.SetTriggerActive(ctx, triggerID, active)
}

// SetCallbackActive toggles one trigger binding. The cascade skips
// inactive callbacks.
func (e *Engine) SetCallbackActive(ctx context.Context, callbackID int64, active bool) error {
	return e.db.SetCallbackActive(ctx, callbackID, active)
}

func (e *Engine) SetDeviceActive(ctx context.Context, deviceID int64, active bool) error {
	return e.db.SetDeviceActive(ctx, deviceID, active)
}

// LastSeen reports the event time of the tag's latest sighting as held by
// the online mirror. ok is false when no mirror is configured or the tag
// has not been seen since it was started.
func (e *Engine) LastSeen(ctx context.Context, tagID int64) (time.Time, bool, error) {
	if _, err := e.db.GetTag(ctx, tagID); err != nil {
		return time.Time{}, false, err
	}
	t, ok := e.tagState.LastSeen(ctx, tagID)
	return t, ok, nil
}

func (e *Engine) TagPath(ctx context.Context, tagID int64) (string, error) {
	tag, err := e.db.GetTag(ctx, tagID)
	if err != nil {
		return "", err
	}
	return e.cascade.TagPath(ctx, tag), nil
}

func (e *Engine) OnlineTags(ctx context.Context, deviceID int64) ([]int64, error) {
	return e.tagState.OnlineTags(ctx, deviceID)
}

// TagsInCategory lists the tags filed under the category or any of its
// descendants.
func (e *Engine) TagsInCategory(ctx context.Context, categoryID int64) ([]*store.Tag, error) {
	ids, err := e.db.SubCategoryIDs(ctx, categoryID, e.cfg.Cascade.MaxCategoryDepth)
	if err != nil {
		return nil, err
	}
	return e.db.ListTagsInCategories(ctx, ids)
}

func (e *Engine) tagAndDevice(ctx context.Context, tagID int64) (*store.Tag, *store.Device, error) {
	tag, err := e.db.GetTag(ctx, tagID)
	if err != nil {
		return nil, nil, err
	}
	dev, err := e.db.GetDevice(ctx, tag.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	return tag, dev, nil
}

func (e *Engine) queue(ctx context.Context, dev *store.Device, cmd *devicecmd.Command) (int64, error) {
	id, err := e.commands.Enqueue(ctx, dev, cmd)
	if err != nil {
		return 0, err
	}
	e.Events.Emit(Event{Type: EventCommandQueued, Payload: CommandQueuedEvent{
		OutboxID:  id,
		Command:   cmd.Name,
		DeviceUID: dev.ExternalID,
	}})
	return id, nil
}
