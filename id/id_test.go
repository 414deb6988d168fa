package id_test

import (
	"strings"
	"testing"
	"time"

	"github.com/xraph/graflow/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"FlowID", id.NewFlowID, "flow_"},
		{"FlowTypeID", id.NewFlowTypeID, "ftype_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
			if len(got) != len(tt.prefix)+26 {
				t.Errorf("unexpected length %d for %q", len(got), got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"FlowID", id.NewFlowID, id.ParseFlowID},
		{"FlowTypeID", id.NewFlowTypeID, id.ParseFlowTypeID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round trip mismatch: %q != %q", parsed.String(), original.String())
			}
			if parsed.UUID() != original.UUID() {
				t.Errorf("uuid mismatch")
			}
		})
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	flowID := id.NewFlowID()
	if _, err := id.ParseFlowTypeID(flowID.String()); err == nil {
		t.Fatal("expected prefix mismatch error")
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "noprefix", "_01jb8x7m1c9v6k2q4r5s8t0wyz", "flow_short", "flow_" + strings.Repeat("!", 26)} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestIDsSortByCreation(t *testing.T) {
	a := id.NewFlowID()
	time.Sleep(2 * time.Millisecond)
	b := id.NewFlowID()
	if a.String() >= b.String() {
		t.Errorf("expected %q < %q", a.String(), b.String())
	}
}

func TestNil(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Fatal("zero value should be nil")
	}
	if i.String() != "" {
		t.Errorf("nil String() = %q", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("nil Value() = %v, %v", v, err)
	}
}

func TestScan(t *testing.T) {
	original := id.NewFlowID()

	var fromString id.ID
	if err := fromString.Scan(original.String()); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if fromString.String() != original.String() {
		t.Errorf("scan string mismatch")
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if fromBytes.String() != original.String() {
		t.Errorf("scan bytes mismatch")
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil || !fromNil.IsNil() {
		t.Errorf("scan nil: %v", err)
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}
