package store

import (
	"context"
	"fmt"
	"time"
)

type Reader struct {
	ID        int64     `json:"id"`
	RID       int       `json:"rid"`
	DeviceID  int64     `json:"device_id"`
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
}

const readerSelectCols = `id, rid, device_id, name, x, y, location, created_at`

func scanReader(row interface{ Scan(...any) error }) (*Reader, error) {
	var r Reader
	var createdAt any
	if err := row.Scan(&r.ID, &r.RID, &r.DeviceID, &r.Name, &r.X, &r.Y, &r.Location, &createdAt); err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// GetOrCreateReader returns the reader for (rid, device), inserting it at
// position (0,0) named READER_<rid> when missing. Concurrent callers race on
// the (rid, device_id) unique key and all read back the same row.
func (c conn) GetOrCreateReader(ctx context.Context, rid int, deviceID int64) (*Reader, error) {
	_, err := c.q.ExecContext(ctx, c.Q(`INSERT INTO readers (rid, device_id, name, x, y) VALUES (?, ?, ?, 0, 0) ON CONFLICT (rid, device_id) DO NOTHING`),
		rid, deviceID, fmt.Sprintf("READER_%d", rid))
	if err != nil {
		return nil, fmt.Errorf("insert reader: %w", err)
	}
	row := c.q.QueryRowContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM readers WHERE rid=? AND device_id=?`, readerSelectCols)), rid, deviceID)
	r, err := scanReader(row)
	if err != nil {
		return nil, notFound(err, "reader")
	}
	return r, nil
}

func (c conn) ListReaders(ctx context.Context, deviceID int64) ([]*Reader, error) {
	rows, err := c.q.QueryContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM readers WHERE device_id=? ORDER BY rid`, readerSelectCols)), deviceID)
	if err != nil {
		return nil, fmt.Errorf("list readers: %w", err)
	}
	defer rows.Close()
	var readers []*Reader
	for rows.Next() {
		r, err := scanReader(rows)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, rows.Err()
}
