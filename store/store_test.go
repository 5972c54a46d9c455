package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellikeeper/config"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { db.Close() })
	return db
}

var deviceSeq atomic.Int64

func seedDevice(t *testing.T, db *DB, active bool) *Device {
	t.Helper()
	owner := int64(42)
	d := &Device{ExternalID: fmt.Sprintf("dev-%d", deviceSeq.Add(1)), Name: "Hall", Location: "Lobby", OwnerID: &owner, IsActive: active}
	require.NoError(t, db.CreateDevice(context.Background(), d))
	return d
}

func TestDeviceLookup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)

	got, err := db.GetDevice(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ExternalID, got.ExternalID)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.OwnerID)
	assert.Equal(t, int64(42), *got.OwnerID)

	byExt, err := db.GetDeviceByExternalID(ctx, d.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, byExt.ID)

	_, err = db.GetDevice(ctx, 9999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetOrCreateReader_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)

	r1, err := db.GetOrCreateReader(ctx, 5, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "READER_5", r1.Name)
	assert.Zero(t, r1.X)
	assert.Zero(t, r1.Y)

	r2, err := db.GetOrCreateReader(ctx, 5, d.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)

	other := seedDevice(t, db, true)
	r3, err := db.GetOrCreateReader(ctx, 5, other.ID)
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r3.ID, "rid is unique per device only")

	readers, err := db.ListReaders(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, readers, 1)
}

func TestGetOrCreateReader_Concurrent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := db.GetOrCreateReader(ctx, 11, d.ID)
			if assert.NoError(t, err) {
				ids[i] = r.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	readers, err := db.ListReaders(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, readers, 1)
}

func TestGetOrCreateTag(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)

	tag, err := db.GetOrCreateTag(ctx, 7, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "TAG_7", tag.Name)
	assert.False(t, tag.IsActive)
	assert.False(t, tag.IsOnline)
	assert.True(t, tag.LightDetectOn)

	again, err := db.GetOrCreateTag(ctx, 7, d.ID)
	require.NoError(t, err)
	assert.Equal(t, tag.ID, again.ID)

	other := seedDevice(t, db, true)
	_, err = db.GetOrCreateTag(ctx, 7, other.ID)
	assert.True(t, errors.Is(err, ErrTagDeviceConflict))
}

func activeOnlineTag(t *testing.T, db *DB, deviceID int64, tid int) *Tag {
	t.Helper()
	tag := &Tag{TID: tid, DeviceID: deviceID, Name: "T", IsActive: true, IsOnline: true, LightDetectOn: true}
	require.NoError(t, db.CreateTag(context.Background(), tag))
	return tag
}

func TestFlipStaleTagsOffline(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)

	a := activeOnlineTag(t, db, d.ID, 1)
	b := activeOnlineTag(t, db, d.ID, 2)
	c := activeOnlineTag(t, db, d.ID, 3)

	stale, err := db.FlipStaleTagsOffline(ctx, d.ID, []int64{a.ID})
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, b.ID, stale[0].ID)
	assert.Equal(t, c.ID, stale[1].ID)
	assert.True(t, stale[0].IsOnline, "snapshot reflects the pre-update row")

	online, err := db.ListOnlineTagIDs(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, online)

	// Already offline tags are not returned again.
	stale, err = db.FlipStaleTagsOffline(ctx, d.ID, []int64{a.ID})
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestFlipStaleTagsOffline_SkipsInactive(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)

	a := activeOnlineTag(t, db, d.ID, 1)
	b := activeOnlineTag(t, db, d.ID, 2)
	require.NoError(t, db.SetTagActive(ctx, b.ID, false))

	stale, err := db.FlipStaleTagsOffline(ctx, d.ID, nil)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, a.ID, stale[0].ID)

	inactive := seedDevice(t, db, false)
	activeOnlineTag(t, db, inactive.ID, 9)
	stale, err = db.FlipStaleTagsOffline(ctx, inactive.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, stale, "inactive device never loses tags")
}

func TestTagTracksKeepEventTime(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)
	tag := activeOnlineTag(t, db, d.ID, 1)
	r, err := db.GetOrCreateReader(ctx, 2, d.ID)
	require.NoError(t, err)

	late := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	early := time.Date(2024, 3, 1, 11, 59, 59, 0, time.UTC)
	require.NoError(t, db.InsertTagTrack(ctx, &TagTrack{TagID: tag.ID, Readings: [3]TrackReading{{ReaderID: &r.ID, Distance: 10}}, CreatedAt: late}))
	require.NoError(t, db.InsertTagTrack(ctx, &TagTrack{TagID: tag.ID, CreatedAt: early}))

	tracks, err := db.ListTagTracks(ctx, tag.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.True(t, tracks[0].CreatedAt.Equal(early))
	assert.True(t, tracks[1].CreatedAt.Equal(late))
	require.NotNil(t, tracks[1].Readings[0].ReaderID)
	assert.Equal(t, r.ID, *tracks[1].Readings[0].ReaderID)
	assert.Equal(t, 10.0, tracks[1].Readings[0].Distance)
	assert.Nil(t, tracks[1].Readings[1].ReaderID)
}

func TestSubCategoryIDs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)

	root := &Category{DeviceID: d.ID, Name: "Home"}
	require.NoError(t, db.CreateCategory(ctx, root))
	kids := &Category{DeviceID: d.ID, Name: "Kids", ParentID: &root.ID}
	require.NoError(t, db.CreateCategory(ctx, kids))
	toys := &Category{DeviceID: d.ID, Name: "Toys", ParentID: &kids.ID}
	require.NoError(t, db.CreateCategory(ctx, toys))
	office := &Category{DeviceID: d.ID, Name: "Office", ParentID: &root.ID}
	require.NoError(t, db.CreateCategory(ctx, office))

	ids, err := db.SubCategoryIDs(ctx, root.ID, 32)
	require.NoError(t, err)
	assert.Equal(t, []int64{root.ID, kids.ID, office.ID, toys.ID}, ids)

	ids, err = db.SubCategoryIDs(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{root.ID, kids.ID, office.ID}, ids)

	// A cycle does not loop forever.
	require.NoError(t, db.SetCategoryParent(ctx, root.ID, &toys.ID))
	ids, err = db.SubCategoryIDs(ctx, root.ID, 32)
	require.NoError(t, err)
	assert.Len(t, ids, 4)

	_, err = db.SubCategoryIDs(ctx, 9999, 32)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListCallbacksJoinsTrigger(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	trig := &Trigger{Name: "hook", IsActive: true, URL: "example.com/x", Protocol: "https", Params: `{"a":"b"}`, Headers: `{}`, Method: MethodPost}
	require.NoError(t, db.CreateTrigger(ctx, trig))
	require.NoError(t, db.CreateCallback(ctx, &Callback{Scope: ScopeDevice, Target: 3, IsActive: true, TriggerID: trig.ID}))
	require.NoError(t, db.CreateCallback(ctx, &Callback{Scope: ScopeDevice, Target: 3, IsActive: false, TriggerID: trig.ID}))
	require.NoError(t, db.CreateCallback(ctx, &Callback{Scope: ScopeTag, Target: 3, IsActive: true, TriggerID: trig.ID}))

	cbs, err := db.ListCallbacks(ctx, ScopeDevice, 3)
	require.NoError(t, err)
	require.Len(t, cbs, 2)
	assert.True(t, cbs[0].IsActive)
	assert.False(t, cbs[1].IsActive)
	require.NotNil(t, cbs[0].Trigger)
	assert.Equal(t, "example.com/x", cbs[0].Trigger.URL)
	assert.Equal(t, MethodPost, cbs[0].Trigger.Method)

	err = db.CreateCallback(ctx, &Callback{Scope: Scope(9), Target: 1, TriggerID: trig.ID})
	assert.Error(t, err)

	assert.True(t, errors.Is(db.SetTriggerActive(ctx, 9999, false), ErrNotFound))
}

func TestWithTxRollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.LockDevice(ctx, d.ID); err != nil {
			return err
		}
		if _, err := tx.GetOrCreateTag(ctx, 5, d.ID); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	_, err = db.GetTagByTID(ctx, 5)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOutbox(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.EnqueueOutbox(ctx, "cmd/dev-1", []byte(`{"x":1}`), "sensorChoose", "dev-1")
	require.NoError(t, err)

	msgs, err := db.ListPendingOutbox(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "sensorChoose", msgs[0].MsgType)

	n, err := db.IncrementOutboxRetries(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = db.IncrementOutboxRetries(ctx, id)
	require.NoError(t, err)

	msgs, err = db.ListPendingOutbox(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, msgs, "exhausted messages are abandoned")

	id2, err := db.EnqueueOutbox(ctx, "cmd/dev-1", []byte(`{}`), "find_tag", "dev-1")
	require.NoError(t, err)
	require.NoError(t, db.AckOutbox(ctx, id2, time.Now()))
	msgs, err = db.ListPendingOutbox(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEvents(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	d := seedDevice(t, db, true)
	tag := activeOnlineTag(t, db, d.ID, 1)

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, db.InsertEvent(ctx, &Event{Name: "T lost signal", CausedBy: 1, TagID: tag.ID, CreatedAt: at}))
	events, err := db.ListEventsByTag(ctx, tag.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].CausedBy)
	assert.True(t, events[0].CreatedAt.Equal(at))
}

func TestConnFieldsCarryNoTags(t *testing.T) {
	typ := reflect.TypeOf(conn{})
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		assert.Emptyf(t, string(f.Tag), "conn.%s has tag %q", f.Name, f.Tag)
	}
}
