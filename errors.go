package graflow

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("graflow: no store configured")
	ErrStoreClosed     = errors.New("graflow: store closed")
	ErrMigrationFailed = errors.New("graflow: migration failed")

	// Not found errors.
	ErrRunNotFound        = errors.New("graflow: flow run not found")
	ErrFlowTypeNotFound   = errors.New("graflow: flow type not found")
	ErrCheckpointNotFound = errors.New("graflow: checkpoint not found")
	ErrItemNotFound       = errors.New("graflow: store item not found")

	// Conflict errors.
	ErrRunAlreadyExists = errors.New("graflow: flow run already exists")
	ErrFlowTypeExists   = errors.New("graflow: flow type version already exists")
	ErrLatestConflict   = errors.New("graflow: another version is already marked latest")

	// State errors.
	ErrStateConflict   = errors.New("graflow: invalid run state transition")
	ErrExecutionFailed = errors.New("graflow: flow execution failed")

	// Configuration errors.
	ErrConfiguration = errors.New("graflow: flow type misconfigured")
	ErrUnknownPolicy = errors.New("graflow: unknown policy")
	ErrInvalidRate   = errors.New("graflow: invalid rate")
	ErrThrottled     = errors.New("graflow: request throttled")
	ErrForbidden     = errors.New("graflow: permission denied")
)
