package store

import (
	"context"
	"fmt"
	"time"
)

type Event struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CausedBy  int       `json:"caused_by"`
	TagID     int64     `json:"tag_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (c conn) InsertEvent(ctx context.Context, e *Event) error {
	err := c.q.QueryRowContext(ctx, c.Q(`INSERT INTO events (name, caused_by, tag_id, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		e.Name, e.CausedBy, e.TagID, c.dialect.Time(e.CreatedAt)).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (c conn) ListEventsByTag(ctx context.Context, tagID int64) ([]*Event, error) {
	rows, err := c.q.QueryContext(ctx, c.Q(`SELECT id, name, caused_by, tag_id, created_at FROM events WHERE tag_id=? ORDER BY created_at, id`), tagID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt any
		if err := rows.Scan(&e.ID, &e.Name, &e.CausedBy, &e.TagID, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}
