package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

type Tag struct {
	ID            int64     `json:"id"`
	TID           int       `json:"tid"`
	DeviceID      int64     `json:"device_id"`
	Name          string    `json:"name"`
	IsActive      bool      `json:"is_active"`
	IsOnline      bool      `json:"is_online"`
	MoveDetectOn  bool      `json:"move_detect_on"`
	LightDetectOn bool      `json:"light_detect_on"`
	MuteModeOn    bool      `json:"mute_mode_on"`
	CategoryID    *int64    `json:"category_id"`
	CreatedAt     time.Time `json:"created_at"`
}

const tagSelectCols = `id, tid, device_id, name, is_active, is_online, move_detect_on, light_detect_on, mute_mode_on, category_id, created_at`

func scanTag(row interface{ Scan(...any) error }) (*Tag, error) {
	var t Tag
	var category sql.NullInt64
	var createdAt any
	err := row.Scan(&t.ID, &t.TID, &t.DeviceID, &t.Name, &t.IsActive, &t.IsOnline,
		&t.MoveDetectOn, &t.LightDetectOn, &t.MuteModeOn, &category, &createdAt)
	if err != nil {
		return nil, err
	}
	t.CategoryID = scanNullInt(category)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func scanTags(rows *sql.Rows) ([]*Tag, error) {
	var tags []*Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (c conn) CreateTag(ctx context.Context, t *Tag) error {
	err := c.q.QueryRowContext(ctx, c.Q(`INSERT INTO tags (tid, device_id, name, is_active, is_online, move_detect_on, light_detect_on, mute_mode_on, category_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		t.TID, t.DeviceID, t.Name, c.dialect.Bool(t.IsActive), c.dialect.Bool(t.IsOnline),
		c.dialect.Bool(t.MoveDetectOn), c.dialect.Bool(t.LightDetectOn), c.dialect.Bool(t.MuteModeOn), nullInt(t.CategoryID)).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (c conn) GetTag(ctx context.Context, id int64) (*Tag, error) {
	row := c.q.QueryRowContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM tags WHERE id=?`, tagSelectCols)), id)
	t, err := scanTag(row)
	if err != nil {
		return nil, notFound(err, "tag")
	}
	return t, nil
}

func (c conn) GetTagByTID(ctx context.Context, tid int) (*Tag, error) {
	row := c.q.QueryRowContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM tags WHERE tid=?`, tagSelectCols)), tid)
	t, err := scanTag(row)
	if err != nil {
		return nil, notFound(err, "tag")
	}
	return t, nil
}

// GetOrCreateTag returns the tag with the given tid, inserting it for
// deviceID as TAG_<tid> when missing. tid is globally unique; if the row
// belongs to another device ErrTagDeviceConflict is returned.
func (c conn) GetOrCreateTag(ctx context.Context, tid int, deviceID int64) (*Tag, error) {
	_, err := c.q.ExecContext(ctx, c.Q(`INSERT INTO tags (tid, device_id, name) VALUES (?, ?, ?) ON CONFLICT (tid) DO NOTHING`),
		tid, deviceID, fmt.Sprintf("TAG_%d", tid))
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	t, err := c.GetTagByTID(ctx, tid)
	if err != nil {
		return nil, err
	}
	if t.DeviceID != deviceID {
		return nil, fmt.Errorf("tag %d on device %d: %w", tid, t.DeviceID, ErrTagDeviceConflict)
	}
	return t, nil
}

func (c conn) SetTagOnline(ctx context.Context, id int64, online bool) error {
	_, err := c.q.ExecContext(ctx, c.Q(`UPDATE tags SET is_online=? WHERE id=?`), c.dialect.Bool(online), id)
	if err != nil {
		return fmt.Errorf("set tag online: %w", err)
	}
	return nil
}

func (c conn) SetTagActive(ctx context.Context, id int64, active bool) error {
	_, err := c.q.ExecContext(ctx, c.Q(`UPDATE tags SET is_active=? WHERE id=?`), c.dialect.Bool(active), id)
	if err != nil {
		return fmt.Errorf("set tag active: %w", err)
	}
	return nil
}

func (c conn) SetTagCategory(ctx context.Context, id int64, categoryID *int64) error {
	_, err := c.q.ExecContext(ctx, c.Q(`UPDATE tags SET category_id=? WHERE id=?`), nullInt(categoryID), id)
	if err != nil {
		return fmt.Errorf("set tag category: %w", err)
	}
	return nil
}

func (c conn) ListTagsByDevice(ctx context.Context, deviceID int64) ([]*Tag, error) {
	rows, err := c.q.QueryContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM tags WHERE device_id=? ORDER BY id`, tagSelectCols)), deviceID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// ListTagsInCategories returns tags whose category is any of ids.
func (c conn) ListTagsInCategories(ctx context.Context, ids []int64) ([]*Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := fmt.Sprintf(`SELECT %s FROM tags WHERE category_id IN (%s) ORDER BY id`, tagSelectCols, placeholders(len(ids)))
	rows, err := c.q.QueryContext(ctx, c.Q(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list tags in categories: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

func (c conn) ListOnlineTagIDs(ctx context.Context, deviceID int64) ([]int64, error) {
	rows, err := c.q.QueryContext(ctx, c.Q(`SELECT id FROM tags WHERE device_id=? AND is_online=? ORDER BY id`),
		deviceID, c.dialect.Bool(true))
	if err != nil {
		return nil, fmt.Errorf("list online tags: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FlipStaleTagsOffline sets is_online=false on every active, online tag of
// an active device whose id is not in observed, and returns those tags as
// they were before the update (is_online still true). The select and the
// update are one statement, so a tag is returned by at most one caller.
func (c conn) FlipStaleTagsOffline(ctx context.Context, deviceID int64, observed []int64) ([]*Tag, error) {
	yes := c.dialect.Bool(true)
	q := `UPDATE tags SET is_online=? WHERE device_id=? AND is_active=? AND is_online=?
		AND EXISTS (SELECT 1 FROM devices d WHERE d.id=tags.device_id AND d.is_active=?)`
	args := []any{c.dialect.Bool(false), deviceID, yes, yes, yes}
	if len(observed) > 0 {
		q += fmt.Sprintf(` AND id NOT IN (%s)`, placeholders(len(observed)))
		for _, id := range observed {
			args = append(args, id)
		}
	}
	q += ` RETURNING ` + tagSelectCols
	rows, err := c.q.QueryContext(ctx, c.Q(q), args...)
	if err != nil {
		return nil, fmt.Errorf("flip stale tags: %w", err)
	}
	defer rows.Close()
	tags, err := scanTags(rows)
	if err != nil {
		return nil, fmt.Errorf("flip stale tags: %w", err)
	}
	for _, t := range tags {
		t.IsOnline = true
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })
	return tags, nil
}
