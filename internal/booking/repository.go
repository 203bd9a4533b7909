package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reservation carries everything ReserveAppointment needs to atomically
// capacity-check, assign a queue number, and insert the appointment.
type Reservation struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID

	// Template is nil for ad-hoc bookings, which skip the capacity check
	// but still draw a queue number.
	Template *ScheduleTemplate
	// SlotStart/SlotEnd bound the capacity window when Template is set.
	SlotStart TimeOfDay
	SlotEnd   TimeOfDay

	VisitDate time.Time
	VisitTime TimeOfDay
	Mode      ConsultationMode
	Location  *string
	Fee       float64
}

// Repository contains all DB interactions needed by the booking service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByNationalID(ctx context.Context, nationalID string) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) error
	// SetMedicalRecordNumber assigns the external record number only when
	// none is set yet; an already-assigned number is never overwritten.
	SetMedicalRecordNumber(ctx context.Context, patientID uuid.UUID, mrn string) error
	MarkPatientReturning(ctx context.Context, id uuid.UUID) error

	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListTemplatesByDoctor(ctx context.Context, doctorID uuid.UUID) ([]ScheduleTemplate, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// ReserveAppointment runs the capacity check, queue-number assignment
	// and insert as one atomic unit.
	ReserveAppointment(ctx context.Context, res Reservation) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// CancelAppointment flips any non-terminal appointment to cancelled.
	CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	UpdateSyncResult(ctx context.Context, id uuid.UUID, status SyncStatus, visitNumber, localRef, detail *string) error
	FindPendingSync(ctx context.Context, limit int) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev BookingEvent) error
}
