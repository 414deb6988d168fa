package graph

// Reducer folds an update into the current value of a channel.
type Reducer func(current, update any) any

// Replace keeps the update. It is the default for channels without a
// reducer.
func Replace(_, update any) any { return update }

// Append concatenates list updates onto the current list. A non-list
// update is appended as a single element.
func Append(current, update any) any {
	var out []any
	if cur, ok := current.([]any); ok {
		out = append(out, cur...)
	}
	if up, ok := update.([]any); ok {
		return append(out, up...)
	}
	if update == nil {
		return out
	}
	return append(out, update)
}
