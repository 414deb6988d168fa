// Package id defines prefixed, K-sortable identifiers for graflow entities.
//
// An ID is a UUIDv7 rendered as lowercase Crockford base32 behind a short
// entity prefix, e.g. "flow_01jb8x7m1c9v6k2q4r5s8t0wyz". Because UUIDv7 is
// time ordered and the alphabet is ASCII ordered, IDs sort by creation time.
package id

import (
	"database/sql/driver"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for graflow entity types.
const (
	PrefixFlow     Prefix = "flow"
	PrefixFlowType Prefix = "ftype"
)

// suffixLen is the length of a base32 encoded 16-byte UUID without padding.
const suffixLen = 26

var encoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz").WithPadding(base32.NoPadding)

// ID is the primary identifier type for all graflow entities.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	prefix Prefix
	uuid   uuid.UUID
	valid  bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new ID with the given prefix.
// It panics if the prefix is empty or contains an underscore (programming error).
func New(prefix Prefix) ID {
	if prefix == "" || strings.Contains(string(prefix), "_") {
		panic(fmt.Sprintf("id: invalid prefix %q", prefix))
	}
	return ID{prefix: prefix, uuid: uuid.Must(uuid.NewV7()), valid: true}
}

// Parse parses an ID string (e.g. "flow_01jb8x7m1c9v6k2q4r5s8t0wyz").
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	idx := strings.LastIndexByte(s, '_')
	if idx <= 0 {
		return Nil, fmt.Errorf("id: parse %q: missing prefix", s)
	}
	prefix, suffix := s[:idx], s[idx+1:]
	if len(suffix) != suffixLen {
		return Nil, fmt.Errorf("id: parse %q: suffix must be %d characters", s, suffixLen)
	}

	raw, err := encoding.DecodeString(suffix)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{prefix: Prefix(prefix), uuid: u, valid: true}, nil
}

// ParseWithPrefix parses an ID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// FlowID identifies a flow run (prefix: "flow").
type FlowID = ID

// FlowTypeID identifies a flow type catalog row (prefix: "ftype").
type FlowTypeID = ID

// NewFlowID generates a new flow run ID.
func NewFlowID() ID { return New(PrefixFlow) }

// NewFlowTypeID generates a new flow type ID.
func NewFlowTypeID() ID { return New(PrefixFlowType) }

// ParseFlowID parses a string and validates the "flow" prefix.
func ParseFlowID(s string) (ID, error) { return ParseWithPrefix(s, PrefixFlow) }

// ParseFlowTypeID parses a string and validates the "ftype" prefix.
func ParseFlowTypeID(s string) (ID, error) { return ParseWithPrefix(s, PrefixFlowType) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the "prefix_suffix" form. Returns "" for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return string(i.prefix) + "_" + encoding.EncodeToString(i.uuid[:])
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return i.prefix
}

// UUID returns the underlying UUIDv7.
func (i ID) UUID() uuid.UUID { return i.uuid }

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer. The Nil ID is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
