package store

import (
	"context"
	"fmt"
	"time"
)

// Outbound methods for Trigger.Method.
const (
	MethodGet  = 1
	MethodPost = 2
	MethodPut  = 3
)

type Trigger struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	URL       string    `json:"callback_url"`
	Protocol  string    `json:"callback_protocol"`
	// Params and Headers are JSON objects whose values may hold
	// {% var %} placeholders.
	Params    string    `json:"callback_params"`
	Headers   string    `json:"callback_headers"`
	Method    int       `json:"callback_method"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

const triggerSelectCols = `id, name, is_active, callback_url, callback_protocol, callback_params, callback_headers, callback_method, owner_id, created_at`

func scanTrigger(row interface{ Scan(...any) error }) (*Trigger, error) {
	var t Trigger
	var createdAt any
	err := row.Scan(&t.ID, &t.Name, &t.IsActive, &t.URL, &t.Protocol, &t.Params, &t.Headers, &t.Method, &t.OwnerID, &createdAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func (c conn) CreateTrigger(ctx context.Context, t *Trigger) error {
	err := c.q.QueryRowContext(ctx, c.Q(`INSERT INTO triggers (name, is_active, callback_url, callback_protocol, callback_params, callback_headers, callback_method, owner_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		t.Name, c.dialect.Bool(t.IsActive), t.URL, t.Protocol, t.Params, t.Headers, t.Method, t.OwnerID).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	return nil
}

func (c conn) GetTrigger(ctx context.Context, id int64) (*Trigger, error) {
	row := c.q.QueryRowContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM triggers WHERE id=?`, triggerSelectCols)), id)
	t, err := scanTrigger(row)
	if err != nil {
		return nil, notFound(err, "trigger")
	}
	return t, nil
}

func (c conn) SetTriggerActive(ctx context.Context, id int64, active bool) error {
	res, err := c.q.ExecContext(ctx, c.Q(`UPDATE triggers SET is_active=? WHERE id=?`), c.dialect.Bool(active), id)
	if err != nil {
		return fmt.Errorf("set trigger active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trigger %d: %w", id, ErrNotFound)
	}
	return nil
}
