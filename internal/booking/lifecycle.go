package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// statusRank orders the forward lifecycle. Transitions may only move to a
// strictly higher rank; cancelled sits outside the ordering and is reachable
// from any non-terminal state.
var statusRank = map[AppointmentStatus]int{
	StatusScheduled:  0,
	StatusConfirmed:  1,
	StatusArrived:    2,
	StatusInProgress: 3,
	StatusCompleted:  4,
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.advance(ctx, id, StatusConfirmed)
}

func (s *Service) MarkArrived(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.advance(ctx, id, StatusArrived)
}

func (s *Service) MarkInProgress(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.advance(ctx, id, StatusInProgress)
}

func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.advance(ctx, id, StatusCompleted)
}

func (s *Service) advance(ctx context.Context, id uuid.UUID, target AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Terminal() {
		return nil, stateConflict(appt.Status, target)
	}
	if statusRank[target] <= statusRank[appt.Status] {
		return nil, stateConflict(appt.Status, target)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, target)
	if err != nil {
		// The row was there a moment ago; a concurrent transition won.
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment moved concurrently", ErrConflict)
		}
		return nil, fmt.Errorf("advance appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventStatusChanged, map[string]any{
		"from": string(appt.Status),
		"to":   string(target),
	})

	return updated, nil
}

// Cancel frees the appointment's counted capacity. Legal from any non-terminal
// state; the actor must own the appointment or hold administrative rights.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Terminal() {
		return nil, stateConflict(appt.Status, StatusCancelled)
	}
	if !actor.Admin && !actor.owns(appt) {
		return nil, ErrForbidden
	}

	cancelled, err := s.repo.CancelAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment moved concurrently", ErrConflict)
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, cancelled.ID, EventBookingCancelled, map[string]any{
		"from": string(appt.Status),
	})

	return cancelled, nil
}

// Reschedule books a fresh appointment for the new slot and only then cancels
// the original, so queue numbers and sync history stay attached to one
// physical booking each. Legal only from scheduled or confirmed. When the new
// slot is unavailable the original appointment is left untouched.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate time.Time, newTime TimeOfDay, actor Actor) (*BookingResult, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
		return nil, stateConflict(appt.Status, StatusCancelled)
	}
	if !actor.Admin && !actor.owns(appt) {
		return nil, ErrForbidden
	}
	if newDate.IsZero() {
		return nil, invalidInput("new date is required")
	}

	patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}

	res := Reservation{
		PatientID: appt.PatientID,
		DoctorID:  appt.DoctorID,
		VisitDate: newDate,
		VisitTime: newTime,
		Mode:      appt.Mode,
		Location:  appt.Location,
		Fee:       appt.Fee,
	}

	// An appointment booked against a template reschedules against a
	// template; an ad-hoc one stays ad-hoc.
	if appt.TemplateID != nil {
		tpl, slotStart, slotEnd, err := s.findCoveringTemplate(ctx, appt.DoctorID, newDate, newTime)
		if err != nil {
			return nil, err
		}
		res.Template = tpl
		res.SlotStart = slotStart
		res.SlotEnd = slotEnd
	}

	replacement, err := s.repo.ReserveAppointment(ctx, res)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, StatusCancelled); err != nil {
		// The original moved while we were reserving. Undo the new booking
		// rather than leave the patient double-booked.
		if _, cErr := s.repo.CancelAppointment(ctx, replacement.ID); cErr != nil {
			s.log.Error().Err(cErr).Stringer("appointment_id", replacement.ID).
				Msg("failed to undo replacement after reschedule race")
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment moved concurrently", ErrConflict)
		}
		return nil, fmt.Errorf("cancel original appointment: %w", err)
	}

	s.logEvent(ctx, id, EventBookingRescheduled, map[string]any{
		"replacement_id": replacement.ID.String(),
		"new_date":       newDate.Format("2006-01-02"),
		"new_time":       newTime.String(),
	})

	sync := s.syncAppointment(ctx, replacement, patient, doctor)

	return &BookingResult{Appointment: replacement, Sync: sync}, nil
}
