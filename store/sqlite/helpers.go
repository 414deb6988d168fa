package sqlite

import (
	"database/sql"
	"errors"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/graflow/serde"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey reports a UNIQUE or PRIMARY KEY constraint violation.
func isDuplicateKey(err error) bool {
	var sqliteErr *sqlitedrv.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

var jsonSerde = serde.New(serde.WithJSON())

// encodeMap renders m as JSON. nil becomes an empty object.
func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	_, data, err := jsonSerde.DumpsTyped(m)
	return string(data), err
}

// decodeMap loads JSON written by encodeMap. Integers come back as int64.
func decodeMap(data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}
	v, err := jsonSerde.LoadsTyped(serde.EncodingJSON, []byte(data))
	if err != nil {
		return nil, err
	}
	return serde.CanonicalMap(v)
}
