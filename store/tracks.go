package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TrackReading is one (reader, distance) slot of a sighting. ReaderID is nil
// when the slot was empty.
type TrackReading struct {
	ReaderID *int64  `json:"reader_id"`
	Distance float64 `json:"distance"`
}

type TagTrack struct {
	ID        int64           `json:"id"`
	TagID     int64           `json:"tag_id"`
	Readings  [3]TrackReading `json:"readings"`
	CreatedAt time.Time       `json:"created_at"`
}

// InsertTagTrack appends a sighting. CreatedAt is the device-reported event
// time and must be set by the caller.
func (c conn) InsertTagTrack(ctx context.Context, tr *TagTrack) error {
	r := tr.Readings
	err := c.q.QueryRowContext(ctx, c.Q(`INSERT INTO tag_tracks (tag_id, reader1_id, distance1, reader2_id, distance2, reader3_id, distance3, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		tr.TagID,
		nullInt(r[0].ReaderID), r[0].Distance,
		nullInt(r[1].ReaderID), r[1].Distance,
		nullInt(r[2].ReaderID), r[2].Distance,
		c.dialect.Time(tr.CreatedAt)).Scan(&tr.ID)
	if err != nil {
		return fmt.Errorf("insert tag track: %w", err)
	}
	return nil
}

// ListTagTracks returns the sightings of a tag ordered by event time.
func (c conn) ListTagTracks(ctx context.Context, tagID int64) ([]*TagTrack, error) {
	rows, err := c.q.QueryContext(ctx, c.Q(`SELECT id, tag_id, reader1_id, distance1, reader2_id, distance2, reader3_id, distance3, created_at FROM tag_tracks WHERE tag_id=? ORDER BY created_at, id`), tagID)
	if err != nil {
		return nil, fmt.Errorf("list tag tracks: %w", err)
	}
	defer rows.Close()
	var tracks []*TagTrack
	for rows.Next() {
		var tr TagTrack
		var r1, r2, r3 sql.NullInt64
		var createdAt any
		if err := rows.Scan(&tr.ID, &tr.TagID, &r1, &tr.Readings[0].Distance, &r2, &tr.Readings[1].Distance, &r3, &tr.Readings[2].Distance, &createdAt); err != nil {
			return nil, err
		}
		tr.Readings[0].ReaderID = scanNullInt(r1)
		tr.Readings[1].ReaderID = scanNullInt(r2)
		tr.Readings[2].ReaderID = scanNullInt(r3)
		tr.CreatedAt = parseTime(createdAt)
		tracks = append(tracks, &tr)
	}
	return tracks, rows.Err()
}
