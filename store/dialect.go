package store

import (
	"fmt"
	"strings"
	"time"
)

// Dialect hides the differences between the SQLite and PostgreSQL schemas.
type Dialect interface {
	Rebinds() bool
	// ForUpdate is appended to a SELECT that must lock its row for the
	// rest of the transaction.
	ForUpdate() string
	Bool(v bool) any
	Time(t time.Time) any
}

type sqliteDialect struct{}

func (d sqliteDialect) Rebinds() bool     { return false }
func (d sqliteDialect) ForUpdate() string { return "" }
func (d sqliteDialect) Bool(v bool) any   { return boolToInt(v) }
func (d sqliteDialect) Time(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}

// sqliteTimeLayout is fixed width so stored text sorts chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type postgresDialect struct{}

func (d postgresDialect) Rebinds() bool        { return true }
func (d postgresDialect) ForUpdate() string    { return " FOR UPDATE" }
func (d postgresDialect) Bool(v bool) any      { return v }
func (d postgresDialect) Time(t time.Time) any { return t.UTC() }

// parseTime converts a scanned timestamp value to time.Time.
// Handles both SQLite (returns string) and Postgres (returns time.Time).
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return parseTime(string(t))
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02 15:04:05.999999999-07:00",
			"2006-01-02 15:04:05-07:00",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
