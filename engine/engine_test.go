package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellikeeper/cascade"
	"intellikeeper/config"
	"intellikeeper/frame"
	"intellikeeper/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type outboundCall struct {
	method string
	url    string
	params map[string]string
}

type recordingCaller struct {
	mu    sync.Mutex
	calls []outboundCall
}

func (r *recordingCaller) Call(_ context.Context, method, url string, _, params map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, outboundCall{method, url, params})
	return nil
}

func (r *recordingCaller) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func quietLog(string, ...any) {}

type fixture struct {
	db     *store.DB
	eng    *Engine
	caller *recordingCaller
	dev    *store.Device
	tag    *store.Tag
}

func newFixture(t *testing.T, inline bool) *fixture {
	t.Helper()
	db := testDB(t)
	ctx := context.Background()
	caller := &recordingCaller{}
	eng := New(Config{
		AppConfig:    config.Defaults(),
		DB:           db,
		Caller:       caller,
		SyncDispatch: inline,
		LogFunc:      quietLog,
	})
	dev := &store.Device{ExternalID: "bs-001", Name: "Hall", Location: "Lobby", IsActive: true}
	require.NoError(t, db.CreateDevice(ctx, dev))
	tag := &store.Tag{TID: 7, DeviceID: dev.ID, Name: "Bike", IsActive: true, IsOnline: true, MoveDetectOn: true, LightDetectOn: true}
	require.NoError(t, db.CreateTag(ctx, tag))
	return &fixture{db: db, eng: eng, caller: caller, dev: dev, tag: tag}
}

func (f *fixture) hook(t *testing.T, scope store.Scope, target int64) *store.Trigger {
	t.Helper()
	ctx := context.Background()
	trig := &store.Trigger{
		Name:     "hook",
		IsActive: true,
		URL:      "hooks.example.com/{% device_id %}",
		Protocol: "https",
		Params:   `{"tag": "{% tag_name %}", "event": "{% event_type %}"}`,
		Headers:  `{}`,
		Method:   store.MethodPost,
	}
	require.NoError(t, f.db.CreateTrigger(ctx, trig))
	require.NoError(t, f.db.CreateCallback(ctx, &store.Callback{Scope: scope, Target: target, IsActive: true, TriggerID: trig.ID}))
	return trig
}

func TestIngestProps_EmptyBatchLosesTag(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.hook(t, store.ScopeDevice, f.dev.ID)

	var batches []BatchReconciledEvent
	f.eng.Events.SubscribeTypes(func(evt Event) {
		batches = append(batches, evt.Payload.(BatchReconciledEvent))
	}, EventBatchReconciled)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.eng.IngestProps(ctx, "bs-001", t0, ""))

	tag, err := f.db.GetTag(ctx, f.tag.ID)
	require.NoError(t, err)
	assert.False(t, tag.IsOnline)

	events, err := f.db.ListEventsByTag(ctx, f.tag.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].CausedBy)
	assert.Equal(t, "Bike lost signal", events[0].Name)

	require.Len(t, f.caller.calls, 1)
	assert.Equal(t, outboundCall{
		method: "POST",
		url:    "https://hooks.example.com/bs-001",
		params: map[string]string{"tag": "Bike", "event": "1"},
	}, f.caller.calls[0])

	require.Len(t, batches, 1)
	assert.Equal(t, []int64{f.tag.ID}, batches[0].Lost)
}

func TestIngestProps_SightingKeepsTagOnline(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	stream := frame.Encode([]frame.Frame{{TagID: 7, Readings: [frame.Slots]frame.Reading{
		{ReaderID: 1, Distance: 12},
		{ReaderID: frame.NoReader},
		{ReaderID: frame.NoReader},
	}}})
	require.NoError(t, f.eng.IngestProps(ctx, "bs-001", time.Now(), hex.EncodeToString(stream)))

	online, err := f.eng.OnlineTags(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.tag.ID}, online)

	readers, err := f.db.ListReaders(ctx, f.dev.ID)
	require.NoError(t, err)
	require.Len(t, readers, 1)
	assert.Equal(t, "READER_1", readers[0].Name)
}

func TestIngestProps_Errors(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	err := f.eng.IngestProps(ctx, "nobody", time.Now(), "0001")
	assert.True(t, errors.Is(err, frame.ErrMalformedFrameStream), "decode happens before lookup: %v", err)

	err = f.eng.IngestProps(ctx, "nobody", time.Now(), "")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	tag, err := f.db.GetTag(ctx, f.tag.ID)
	require.NoError(t, err)
	assert.True(t, tag.IsOnline)
}

func TestSensorException(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.hook(t, store.ScopeTag, f.tag.ID)

	require.NoError(t, f.eng.SensorException(ctx, 7, cascade.Moved))
	events, err := f.db.ListEventsByTag(ctx, f.tag.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].CausedBy)
	assert.Equal(t, 1, f.caller.count())

	err = f.eng.SensorException(ctx, 999, cascade.Moved)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRunCallbacks_UnknownKind(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.eng.RunCallbacks(context.Background(), f.tag.ID, cascade.Kind("bogus"))
	assert.True(t, errors.Is(err, cascade.ErrUnknownEventKind))

	_, err = f.eng.RunCallbacks(context.Background(), 12345, cascade.Test)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func pendingCommand(t *testing.T, db *store.DB) map[string]any {
	t.Helper()
	msgs, err := db.ListPendingOutbox(context.Background(), 10, 10)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	var cmd map[string]any
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Payload, &cmd))
	return cmd
}

func TestSyncTagConfig_QueuesSensorChoose(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.eng.SyncTagConfig(ctx, 7))
	cmd := pendingCommand(t, f.db)
	assert.Equal(t, "sensorChoose", cmd["command_name"])
	assert.Equal(t, "bs-001", cmd["device_id"])
	assert.Equal(t, map[string]any{
		"accSensor":   true,
		"lightSensor": true,
		"tagId":       float64(7),
		"muteMode":    false,
	}, cmd["paras"])

	assert.True(t, errors.Is(f.eng.SyncTagConfig(ctx, 4242), store.ErrNotFound))
}

func TestSetTagActive_PushesDisabledConfig(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.eng.SetTagActive(ctx, f.tag.ID, false))
	tag, err := f.db.GetTag(ctx, f.tag.ID)
	require.NoError(t, err)
	assert.False(t, tag.IsActive)

	cmd := pendingCommand(t, f.db)
	paras := cmd["paras"].(map[string]any)
	assert.Equal(t, false, paras["accSensor"])
	assert.Equal(t, true, paras["muteMode"])

	assert.True(t, errors.Is(f.eng.SetTagActive(ctx, 999, true), store.ErrNotFound))
}

func TestFindTag(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	id, err := f.eng.FindTag(ctx, f.tag.ID)
	require.NoError(t, err)
	assert.NotZero(t, id)
	cmd := pendingCommand(t, f.db)
	assert.Equal(t, "find_tag", cmd["command_name"])
	assert.Equal(t, map[string]any{"tid": float64(7)}, cmd["paras"])

	_, err = f.eng.FindTag(ctx, 999)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRegisterReaders(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	readers, err := f.eng.RegisterReaders(ctx, f.dev.ID, "0100ffff0200")
	require.NoError(t, err)
	require.Len(t, readers, 2)
	assert.Equal(t, 1, readers[0].RID)
	assert.Equal(t, 2, readers[1].RID)

	_, err = f.eng.RegisterReaders(ctx, f.dev.ID, "010")
	assert.True(t, errors.Is(err, frame.ErrMalformedReaderList))

	_, err = f.eng.RegisterReaders(ctx, 999, "0100")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestTagPathAndCategoryListing(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	root := &store.Category{DeviceID: f.dev.ID, Name: "Home"}
	require.NoError(t, f.db.CreateCategory(ctx, root))
	leaf := &store.Category{DeviceID: f.dev.ID, Name: "Garage", ParentID: &root.ID}
	require.NoError(t, f.db.CreateCategory(ctx, leaf))
	require.NoError(t, f.db.SetTagCategory(ctx, f.tag.ID, &leaf.ID))

	path, err := f.eng.TagPath(ctx, f.tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "Home/Garage", path)

	tags, err := f.eng.TagsInCategory(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, f.tag.ID, tags[0].ID)
}

func TestInvokeTrigger_ThroughPool(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	trig := f.hook(t, store.ScopeAccount, 1)
	require.NoError(t, f.eng.Start(ctx))

	id, err := f.eng.InvokeTrigger(ctx, trig.ID, f.tag.ID, cascade.Test)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	f.eng.Stop()

	require.Equal(t, 1, f.caller.count())
	assert.Equal(t, "0", f.caller.calls[0].params["event"])
	assert.Equal(t, int64(1), f.eng.DispatchStats().Processed)

	_, err = f.eng.InvokeTrigger(ctx, 999, f.tag.ID, cascade.Test)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSetTriggerActive(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	trig := f.hook(t, store.ScopeTag, f.tag.ID)

	require.NoError(t, f.eng.SetTriggerActive(ctx, trig.ID, false))
	_, err := f.eng.RunCallbacks(ctx, f.tag.ID, cascade.Test)
	require.NoError(t, err)
	assert.Zero(t, f.caller.count(), "inactive trigger is skipped")

	assert.True(t, errors.Is(f.eng.SetTriggerActive(ctx, 999, true), store.ErrNotFound))
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	var order []string
	var stamped time.Time
	bus.SubscribeTypes(func(evt Event) {
		order = append(order, "both")
		stamped = evt.Timestamp
	}, EventCommandQueued, EventBatchReconciled)
	bus.SubscribeTypes(func(Event) { order = append(order, "queued") }, EventCommandQueued)

	bus.Emit(Event{Type: EventCommandQueued})
	bus.Emit(Event{Type: EventBatchReconciled})
	bus.Emit(Event{Type: EventTagStatusChanged})
	assert.Equal(t, []string{"both", "queued", "both"}, order)
	assert.False(t, stamped.IsZero())
}

// memCache is an in-memory tagstate.Cache.
type memCache struct {
	mu          sync.Mutex
	online      map[int64][]int64
	lastSeen    map[int64]time.Time
	invalidated []int64
}

func newMemCache() *memCache {
	return &memCache{online: map[int64][]int64{}, lastSeen: map[int64]time.Time{}}
}

func (c *memCache) ApplyBatch(_ context.Context, deviceID int64, observed, lost []int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range observed {
		c.lastSeen[id] = at
	}
	if cur, ok := c.online[deviceID]; ok {
		c.online[deviceID] = mergeOnline(cur, observed, lost)
	}
	return nil
}

func mergeOnline(cur, observed, lost []int64) []int64 {
	set := map[int64]bool{}
	for _, id := range cur {
		set[id] = true
	}
	for _, id := range observed {
		set[id] = true
	}
	for _, id := range lost {
		delete(set, id)
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (c *memCache) ReplaceOnline(_ context.Context, deviceID int64, online []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[deviceID] = append([]int64{}, online...)
	return nil
}

func (c *memCache) Online(_ context.Context, deviceID int64) ([]int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.online[deviceID]
	return append([]int64{}, ids...), ok, nil
}

func (c *memCache) Invalidate(_ context.Context, deviceID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.online, deviceID)
	c.invalidated = append(c.invalidated, deviceID)
	return nil
}

func (c *memCache) LastSeen(_ context.Context, tagID int64) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastSeen[tagID]
	return t, ok, nil
}

func newCachedFixture(t *testing.T) (*fixture, *memCache) {
	t.Helper()
	f := newFixture(t, true)
	cache := newMemCache()
	f.eng = New(Config{
		AppConfig:    config.Defaults(),
		DB:           f.db,
		Cache:        cache,
		Caller:       f.caller,
		SyncDispatch: true,
		LogFunc:      quietLog,
	})
	return f, cache
}

func TestSetTagActive_DropsDeviceMirror(t *testing.T) {
	f, cache := newCachedFixture(t)
	ctx := context.Background()

	online, err := f.eng.OnlineTags(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.tag.ID}, online)
	_, mirrored, _ := cache.Online(ctx, f.dev.ID)
	require.True(t, mirrored)

	var changed []TagStatusChangedEvent
	f.eng.Events.SubscribeTypes(func(evt Event) {
		changed = append(changed, evt.Payload.(TagStatusChangedEvent))
	}, EventTagStatusChanged)

	require.NoError(t, f.eng.SetTagActive(ctx, f.tag.ID, false))
	assert.Equal(t, []TagStatusChangedEvent{{TagID: f.tag.ID, DeviceID: f.dev.ID, IsActive: false}}, changed)
	assert.Equal(t, []int64{f.dev.ID}, cache.invalidated)
	_, mirrored, _ = cache.Online(ctx, f.dev.ID)
	assert.False(t, mirrored)

	// The next read rebuilds the mirror from SQL.
	online, err = f.eng.OnlineTags(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.tag.ID}, online)
	_, mirrored, _ = cache.Online(ctx, f.dev.ID)
	assert.True(t, mirrored)
}

func TestLastSeen(t *testing.T) {
	f, _ := newCachedFixture(t)
	ctx := context.Background()

	_, seen, err := f.eng.LastSeen(ctx, f.tag.ID)
	require.NoError(t, err)
	assert.False(t, seen)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stream := frame.Encode([]frame.Frame{{TagID: 7, Readings: [frame.Slots]frame.Reading{
		{ReaderID: 1, Distance: 12},
		{ReaderID: frame.NoReader},
		{ReaderID: frame.NoReader},
	}}})
	require.NoError(t, f.eng.IngestProps(ctx, "bs-001", t0, hex.EncodeToString(stream)))

	at, seen, err := f.eng.LastSeen(ctx, f.tag.ID)
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, t0.Equal(at))

	_, _, err = f.eng.LastSeen(ctx, 999)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestLastSeen_NoMirror(t *testing.T) {
	f := newFixture(t, true)
	_, seen, err := f.eng.LastSeen(context.Background(), f.tag.ID)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSetCallbackActive(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.hook(t, store.ScopeTag, f.tag.ID)
	cbs, err := f.db.ListCallbacks(ctx, store.ScopeTag, f.tag.ID)
	require.NoError(t, err)
	require.Len(t, cbs, 1)

	require.NoError(t, f.eng.SetCallbackActive(ctx, cbs[0].ID, false))
	_, err = f.eng.RunCallbacks(ctx, f.tag.ID, cascade.Test)
	require.NoError(t, err)
	assert.Zero(t, f.caller.count(), "inactive callback is skipped")

	require.NoError(t, f.eng.SetCallbackActive(ctx, cbs[0].ID, true))
	_, err = f.eng.RunCallbacks(ctx, f.tag.ID, cascade.Test)
	require.NoError(t, err)
	assert.Equal(t, 1, f.caller.count())

	assert.True(t, errors.Is(f.eng.SetCallbackActive(ctx, 999, true), store.ErrNotFound))
}

func TestSetDeviceActive(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.eng.SetDeviceActive(ctx, f.dev.ID, false))
	dev, err := f.db.GetDevice(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.False(t, dev.IsActive)

	assert.True(t, errors.Is(f.eng.SetDeviceActive(ctx, 999, false), store.ErrNotFound))
}
