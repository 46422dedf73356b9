package service

import "errors"

var (
	// ErrScheduleInvalid reports schedule input that has no sensible default,
	// such as an explicit but unparseable time. Missing fields never trigger
	// it; they fall back to defaults.
	ErrScheduleInvalid = errors.New("invalid schedule configuration")

	// ErrNotScheduledToday rejects a completion attempted on a day or date
	// outside the tracker's schedule.
	ErrNotScheduledToday = errors.New("tracker is not scheduled for today")

	// ErrAlreadyCompleted rejects a second completion of the same occurrence
	// when the tracker's target is a single completion.
	ErrAlreadyCompleted = errors.New("tracker already completed for this occurrence")
)
