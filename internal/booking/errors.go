package booking

import (
	"errors"
	"fmt"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrTemplateNotFound    = errors.New("schedule template not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrValidation marks malformed input, rejected before any persistence
	// or remote call. Wrap it with detail via invalidInput.
	ErrValidation = errors.New("invalid input")

	// ErrCapacityExceeded means the slot was full at commit time; retrying
	// against a different slot is safe.
	ErrCapacityExceeded = errors.New("slot capacity exceeded")

	// ErrConflict means a concurrent write won the race; the caller should
	// retry the whole operation.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrStateConflict marks an illegal lifecycle transition.
	ErrStateConflict = errors.New("illegal appointment state transition")

	// ErrForbidden means the actor may not perform the transition.
	ErrForbidden = errors.New("actor not allowed to modify this appointment")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func stateConflict(from, to AppointmentStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrStateConflict, from, to)
}
