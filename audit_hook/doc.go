// Package audithook is a graflow extension that turns run lifecycle events
// into audit records.
//
// Every run hook emits an [AuditEvent] through the [Recorder] interface,
// carrying the run's flow type, owner and the calling subject found on the
// context. Normal transitions are info events, interrupts are info events
// with the pause point, failures are critical.
//
// # Usage
//
//	rec := audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    logger.InfoContext(ctx, evt.Action, "run", evt.ResourceID, "outcome", evt.Outcome)
//	    return nil
//	})
//	eng, err := engine.Build(g, engine.WithExtension(audithook.New(rec)))
//
// # Selective filtering
//
//	audithook.New(rec,
//	    audithook.WithActions(
//	        audithook.ActionRunFailed,
//	        audithook.ActionRunCancelled,
//	    ),
//	)
package audithook
