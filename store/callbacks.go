package store

import (
	"context"
	"fmt"
	"time"
)

// Scope selects which entity a Callback's Target refers to.
type Scope int

const (
	ScopeAccount  Scope = 1
	ScopeDevice   Scope = 2
	ScopeCategory Scope = 3
	ScopeTag      Scope = 4
)

func (s Scope) String() string {
	switch s {
	case ScopeAccount:
		return "account"
	case ScopeDevice:
		return "device"
	case ScopeCategory:
		return "category"
	case ScopeTag:
		return "tag"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

func (s Scope) Valid() bool { return s >= ScopeAccount && s <= ScopeTag }

// Callback binds a trigger to one (scope, target) pair.
type Callback struct {
	ID        int64     `json:"id"`
	Scope     Scope     `json:"scope"`
	Target    int64     `json:"target"`
	IsActive  bool      `json:"is_active"`
	TriggerID int64     `json:"trigger_id"`
	CreatedAt time.Time `json:"created_at"`

	Trigger *Trigger `json:"trigger,omitempty"`
}

func (c conn) CreateCallback(ctx context.Context, cb *Callback) error {
	if !cb.Scope.Valid() {
		return fmt.Errorf("create callback: invalid %s", cb.Scope)
	}
	err := c.q.QueryRowContext(ctx, c.Q(`INSERT INTO callbacks (scope, target, is_active, trigger_id) VALUES (?, ?, ?, ?) RETURNING id`),
		int(cb.Scope), cb.Target, c.dialect.Bool(cb.IsActive), cb.TriggerID).Scan(&cb.ID)
	if err != nil {
		return fmt.Errorf("create callback: %w", err)
	}
	return nil
}

func (c conn) SetCallbackActive(ctx context.Context, id int64, active bool) error {
	res, err := c.q.ExecContext(ctx, c.Q(`UPDATE callbacks SET is_active=? WHERE id=?`), c.dialect.Bool(active), id)
	if err != nil {
		return fmt.Errorf("set callback active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("callback %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListCallbacks returns the callbacks bound to (scope, target) with their
// triggers loaded, in creation order. Inactive callbacks are included.
func (c conn) ListCallbacks(ctx context.Context, scope Scope, target int64) ([]*Callback, error) {
	rows, err := c.q.QueryContext(ctx, c.Q(`SELECT c.id, c.scope, c.target, c.is_active, c.trigger_id, c.created_at,
		t.id, t.name, t.is_active, t.callback_url, t.callback_protocol, t.callback_params, t.callback_headers, t.callback_method, t.owner_id, t.created_at
		FROM callbacks c JOIN triggers t ON t.id = c.trigger_id
		WHERE c.scope=? AND c.target=? ORDER BY c.id`), int(scope), target)
	if err != nil {
		return nil, fmt.Errorf("list callbacks: %w", err)
	}
	defer rows.Close()
	var cbs []*Callback
	for rows.Next() {
		var cb Callback
		var t Trigger
		var scopeVal int
		var cbCreated, tCreated any
		if err := rows.Scan(&cb.ID, &scopeVal, &cb.Target, &cb.IsActive, &cb.TriggerID, &cbCreated,
			&t.ID, &t.Name, &t.IsActive, &t.URL, &t.Protocol, &t.Params, &t.Headers, &t.Method, &t.OwnerID, &tCreated); err != nil {
			return nil, err
		}
		cb.Scope = Scope(scopeVal)
		cb.CreatedAt = parseTime(cbCreated)
		t.CreatedAt = parseTime(tCreated)
		cb.Trigger = &t
		cbs = append(cbs, &cb)
	}
	return cbs, rows.Err()
}
