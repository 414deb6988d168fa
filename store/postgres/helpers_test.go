package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestLikePrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"docs", "docs.%"},
		{"a_b", `a\_b.%`},
		{"100%", `100\%.%`},
		{`back\slash`, `back\\slash.%`},
	}
	for _, tt := range tests {
		if got := likePrefix(tt.in); got != tt.want {
			t.Errorf("likePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: latestIndex}
	constraint, ok := uniqueViolation(err)
	if !ok || constraint != latestIndex {
		t.Fatalf("uniqueViolation = (%q, %v)", constraint, ok)
	}
	if _, ok := uniqueViolation(&pgconn.PgError{Code: "23503"}); ok {
		t.Fatal("foreign key violation reported as unique")
	}
	if _, ok := uniqueViolation(errors.New("plain")); ok {
		t.Fatal("plain error reported as unique")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	data, err := encodeMap(map[string]any{"step": 3, "source": "loop"})
	if err != nil {
		t.Fatalf("encodeMap: %v", err)
	}
	m, err := decodeMap(data)
	if err != nil {
		t.Fatalf("decodeMap: %v", err)
	}
	if step, ok := m["step"].(int64); !ok || step != 3 {
		t.Fatalf("step = %#v, want int64 3", m["step"])
	}

	empty, err := decodeMap(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("decodeMap(nil) = (%v, %v)", empty, err)
	}
}
