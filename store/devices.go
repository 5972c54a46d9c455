package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Device struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	OwnerID    *int64    `json:"owner_id"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

const deviceSelectCols = `id, external_id, name, location, owner_id, is_active, created_at`

func scanDevice(row interface{ Scan(...any) error }) (*Device, error) {
	var d Device
	var owner sql.NullInt64
	var createdAt any
	if err := row.Scan(&d.ID, &d.ExternalID, &d.Name, &d.Location, &owner, &d.IsActive, &createdAt); err != nil {
		return nil, err
	}
	if owner.Valid {
		d.OwnerID = &owner.Int64
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// CreateDevice provisions a device. The core never calls this outside of
// tests and tooling; devices are read-only to ingestion.
func (c conn) CreateDevice(ctx context.Context, d *Device) error {
	err := c.q.QueryRowContext(ctx, c.Q(`INSERT INTO devices (external_id, name, location, owner_id, is_active) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		d.ExternalID, d.Name, d.Location, nullInt(d.OwnerID), c.dialect.Bool(d.IsActive)).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

func (c conn) GetDevice(ctx context.Context, id int64) (*Device, error) {
	row := c.q.QueryRowContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM devices WHERE id=?`, deviceSelectCols)), id)
	d, err := scanDevice(row)
	if err != nil {
		return nil, notFound(err, "device")
	}
	return d, nil
}

func (c conn) GetDeviceByExternalID(ctx context.Context, externalID string) (*Device, error) {
	row := c.q.QueryRowContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM devices WHERE external_id=?`, deviceSelectCols)), externalID)
	d, err := scanDevice(row)
	if err != nil {
		return nil, notFound(err, "device")
	}
	return d, nil
}

// LockDevice reads the device and, on PostgreSQL, holds its row lock until
// the transaction ends. Batches for one device serialize on this lock.
func (tx *Tx) LockDevice(ctx context.Context, id int64) (*Device, error) {
	row := tx.q.QueryRowContext(ctx, tx.Q(fmt.Sprintf(`SELECT %s FROM devices WHERE id=?%s`, deviceSelectCols, tx.dialect.ForUpdate())), id)
	d, err := scanDevice(row)
	if err != nil {
		return nil, notFound(err, "device")
	}
	return d, nil
}

func (c conn) SetDeviceActive(ctx context.Context, id int64, active bool) error {
	res, err := c.q.ExecContext(ctx, c.Q(`UPDATE devices SET is_active=? WHERE id=?`), c.dialect.Bool(active), id)
	if err != nil {
		return fmt.Errorf("set device active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	return nil
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func scanNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
