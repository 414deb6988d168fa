package flow

import (
	"sort"
	"strconv"
	"strings"

	"github.com/xraph/graflow/serde"
)

// Keys stripped from every state returned to callers.
var internalKeys = map[string]bool{
	InterruptKey:             true,
	"user_id":                true,
	"flow_id":                true,
	"initial_input_received": true,
}

const branchPrefix = "branch:to:"

// CleanState returns a copy of state without engine bookkeeping: the
// interrupt list, branch markers, underscore-prefixed keys and the
// identity fields.
func CleanState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		if internalKeys[k] || strings.HasPrefix(k, branchPrefix) || strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// Interrupts extracts pause records from a result value. It accepts typed
// records as well as their canonical map form.
func Interrupts(v any) []Interrupt {
	switch x := v.(type) {
	case []Interrupt:
		return x
	case []any:
		out := make([]Interrupt, 0, len(x))
		for _, item := range x {
			switch it := item.(type) {
			case Interrupt:
				out = append(out, it)
			case *Interrupt:
				out = append(out, *it)
			case map[string]any:
				in := Interrupt{
					Value: it["value"],
					NS:    stringList(it["ns"]),
					Path:  stringList(it["path"]),
				}
				in.ID, _ = it["id"].(string)
				in.Name, _ = it["name"].(string)
				out = append(out, in)
			}
		}
		return out
	}
	return nil
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		var out []string
		for _, s := range x {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// inspect derives the caller-facing state and pause point from a snapshot.
// A snapshot without values yields a nil state.
func inspect(snap *Snapshot) (map[string]any, string) {
	if snap == nil || len(snap.Values) == 0 {
		return nil, ""
	}
	raw, err := serde.CanonicalMap(snap.Values)
	if err != nil {
		raw = map[string]any{}
	}
	state := make(map[string]any, len(raw))
	for k, v := range raw {
		state[k] = v
	}

	name := nameFromSnapshot(snap)
	for _, task := range snap.Tasks {
		if len(task.Interrupts) == 0 {
			continue
		}
		if name == "" {
			name = task.Name
		}
		for _, in := range task.Interrupts {
			if name == "" {
				name = nameFromNS(in.NS)
			}
			if m, ok := serde.Canonicalize(in.Value).(map[string]any); ok {
				for k, v := range m {
					state[k] = v
				}
				break
			}
		}
	}
	if name == "" {
		if ins := Interrupts(snap.Values[InterruptKey]); len(ins) > 0 {
			name = nameFromNS(ins[0].NS)
		}
	}
	if name == "" {
		name = nameFromState(raw)
	}
	return CleanState(state), name
}

func nameFromSnapshot(snap *Snapshot) string {
	for _, n := range snap.Next {
		if n != "" {
			return n
		}
	}
	for _, task := range snap.Tasks {
		if len(task.Interrupts) == 0 {
			continue
		}
		if task.Name != "" {
			return task.Name
		}
		for i := len(task.Path) - 1; i >= 0; i-- {
			if s, ok := task.Path[i].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	return ""
}

func nameFromNS(ns []string) string {
	if len(ns) == 0 || ns[0] == "" {
		return ""
	}
	head, _, _ := strings.Cut(ns[0], ":")
	return head
}

func nameFromState(state map[string]any) string {
	if ins := Interrupts(state[InterruptKey]); len(ins) > 0 {
		if name := nameFromNS(ins[0].NS); name != "" {
			return name
		}
	}
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if target, ok := strings.CutPrefix(k, branchPrefix); ok && state[k] == nil && target != "" {
			return target
		}
	}
	return ""
}

// MatchState reports whether state satisfies every filter. Filter keys are
// field paths with "__" separating nested keys; values are compared by
// their string form. A nil state, or a missing or nil field, never matches.
func MatchState(state map[string]any, filters map[string]any) bool {
	if state == nil {
		return false
	}
	for path, want := range filters {
		var cur any = state
		for _, part := range strings.Split(path, "__") {
			m, ok := cur.(map[string]any)
			if !ok {
				return false
			}
			cur, ok = m[part]
			if !ok || cur == nil {
				return false
			}
		}
		if stringify(cur) != stringify(want) {
			return false
		}
	}
	return true
}

func stringify(v any) string {
	switch x := serde.Canonicalize(v).(type) {
	case nil:
		return "None"
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return string(serde.CanonicalJSON(x))
	}
}
