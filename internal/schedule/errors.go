package schedule

import "errors"

// Error taxonomy surfaced by the scheduling engine. Validation failures are
// raised before any row is written; once a transaction has started shifting
// orders or cascading dates, any error rolls the whole transaction back.
// Callers map these sentinels to transport status codes.
var (
	// ErrNotFound: the referenced milestone or timeline is absent, or does
	// not belong to the given timeline.
	ErrNotFound = errors.New("schedule: not found")

	// ErrOutOfTimelineBounds: a milestone start date falls before the owning
	// timeline's start date.
	ErrOutOfTimelineBounds = errors.New("schedule: start date outside timeline bounds")

	// ErrInvalidTransition: illegal status change, or pause/resume misuse.
	ErrInvalidTransition = errors.New("schedule: invalid status transition")

	// ErrInvalidDateRange: a completion date earlier than the effective start.
	ErrInvalidDateRange = errors.New("schedule: completion date before start date")

	// ErrForbidden: a non-privileged caller editing an already-recorded
	// completion or actual-start date.
	ErrForbidden = errors.New("schedule: locked date fields require elevated caller")

	// ErrHistoryUnavailable: the status history is too short to resume from.
	// Indicates a data integrity gap, since history rows are appended in the
	// same transaction as every status change.
	ErrHistoryUnavailable = errors.New("schedule: status history incomplete")

	// ErrOrderConflict is reserved for a future optimistic-lock mode.
	// Conflicting order assignments are currently resolved by shifting inside
	// the transaction and never surfaced.
	ErrOrderConflict = errors.New("schedule: conflicting order assignment")
)
