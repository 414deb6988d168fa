package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/graflow/serde"
)

// latestIndex is the partial unique index allowing one latest version per
// (namespace, flow_type).
const latestIndex = "graflow_flow_types_latest_idx"

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// uniqueViolation returns the violated constraint when err is a
// unique_violation (23505).
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// likePrefix returns a LIKE pattern matching strings that extend prefix
// with a "." separated label.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + ".%"
}

// nullIfEmpty maps "" to SQL NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var jsonSerde = serde.New(serde.WithJSON())

// encodeMap renders m as canonical JSON. nil becomes an empty object.
func encodeMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	_, data, err := jsonSerde.DumpsTyped(m)
	return data, err
}

// decodeMap loads JSON written by encodeMap. Integers come back as int64.
func decodeMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	v, err := jsonSerde.LoadsTyped(serde.EncodingJSON, data)
	if err != nil {
		return nil, err
	}
	return serde.CanonicalMap(v)
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}
