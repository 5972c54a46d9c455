package store

import (
	"context"
	"fmt"
	"time"
)

type OutboxMessage struct {
	ID        int64      `json:"id"`
	Topic     string     `json:"topic"`
	Payload   []byte     `json:"payload"`
	MsgType   string     `json:"msg_type"`
	DeviceUID string     `json:"device_uid"`
	Retries   int        `json:"retries"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at"`
}

func (c conn) EnqueueOutbox(ctx context.Context, topic string, payload []byte, msgType, deviceUID string) (int64, error) {
	var id int64
	err := c.q.QueryRowContext(ctx, c.Q(`INSERT INTO outbox (topic, payload, msg_type, device_uid) VALUES (?, ?, ?, ?) RETURNING id`),
		topic, payload, msgType, deviceUID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue outbox: %w", err)
	}
	return id, nil
}

// ListPendingOutbox returns unsent messages that have not used up maxRetries,
// oldest first.
func (c conn) ListPendingOutbox(ctx context.Context, limit, maxRetries int) ([]*OutboxMessage, error) {
	rows, err := c.q.QueryContext(ctx, c.Q(`SELECT id, topic, payload, msg_type, device_uid, retries, created_at FROM outbox WHERE sent_at IS NULL AND retries < ? ORDER BY id LIMIT ?`),
		maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.DeviceUID, &m.Retries, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (c conn) AckOutbox(ctx context.Context, id int64, at time.Time) error {
	_, err := c.q.ExecContext(ctx, c.Q(`UPDATE outbox SET sent_at=? WHERE id=?`), c.dialect.Time(at), id)
	return err
}

func (c conn) IncrementOutboxRetries(ctx context.Context, id int64) (int, error) {
	var retries int
	err := c.q.QueryRowContext(ctx, c.Q(`UPDATE outbox SET retries=retries+1 WHERE id=? RETURNING retries`), id).Scan(&retries)
	return retries, err
}
