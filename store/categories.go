package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Category struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	ParentID  *int64    `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
}

const categorySelectCols = `id, device_id, name, color, parent_id, created_at`

func scanCategory(row interface{ Scan(...any) error }) (*Category, error) {
	var cat Category
	var parent sql.NullInt64
	var createdAt any
	if err := row.Scan(&cat.ID, &cat.DeviceID, &cat.Name, &cat.Color, &parent, &createdAt); err != nil {
		return nil, err
	}
	cat.ParentID = scanNullInt(parent)
	cat.CreatedAt = parseTime(createdAt)
	return &cat, nil
}

func (c conn) CreateCategory(ctx context.Context, cat *Category) error {
	err := c.q.QueryRowContext(ctx, c.Q(`INSERT INTO tag_categories (device_id, name, color, parent_id) VALUES (?, ?, ?, ?) RETURNING id`),
		cat.DeviceID, cat.Name, cat.Color, nullInt(cat.ParentID)).Scan(&cat.ID)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

func (c conn) GetCategory(ctx context.Context, id int64) (*Category, error) {
	row := c.q.QueryRowContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM tag_categories WHERE id=?`, categorySelectCols)), id)
	cat, err := scanCategory(row)
	if err != nil {
		return nil, notFound(err, "category")
	}
	return cat, nil
}

// SetCategoryParent re-parents a category. No cycle check is made here;
// walkers bound their depth instead.
func (c conn) SetCategoryParent(ctx context.Context, id int64, parentID *int64) error {
	_, err := c.q.ExecContext(ctx, c.Q(`UPDATE tag_categories SET parent_id=? WHERE id=?`), nullInt(parentID), id)
	if err != nil {
		return fmt.Errorf("set category parent: %w", err)
	}
	return nil
}

func (c conn) ListChildCategories(ctx context.Context, parentID int64) ([]*Category, error) {
	rows, err := c.q.QueryContext(ctx, c.Q(fmt.Sprintf(`SELECT %s FROM tag_categories WHERE parent_id=? ORDER BY id`, categorySelectCols)), parentID)
	if err != nil {
		return nil, fmt.Errorf("list child categories: %w", err)
	}
	defer rows.Close()
	var cats []*Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		cats = append(cats, cat)
	}
	return cats, rows.Err()
}

// SubCategoryIDs returns id followed by all of its descendants, breadth
// first. Levels beyond maxDepth are not visited and a category is never
// visited twice.
func (c conn) SubCategoryIDs(ctx context.Context, id int64, maxDepth int) ([]int64, error) {
	if _, err := c.GetCategory(ctx, id); err != nil {
		return nil, err
	}
	ids := []int64{id}
	seen := map[int64]bool{id: true}
	level := []int64{id}
	for depth := 0; depth < maxDepth && len(level) > 0; depth++ {
		var next []int64
		for _, parent := range level {
			children, err := c.ListChildCategories(ctx, parent)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if seen[child.ID] {
					continue
				}
				seen[child.ID] = true
				ids = append(ids, child.ID)
				next = append(next, child.ID)
			}
		}
		level = next
	}
	return ids, nil
}
