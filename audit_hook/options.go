package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithActions restricts the extension to the listed actions. By default
// every action is enabled. Unknown actions are ignored.
//
//	audithook.New(rec, audithook.WithActions(audithook.ActionRunFailed))
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithSweeps enables audit records for reaper sweeps that removed nothing.
// They are skipped by default.
func WithSweeps(all bool) Option {
	return func(e *Extension) { e.emptySweeps = all }
}

// WithLogger sets a custom logger for the extension.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
