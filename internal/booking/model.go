package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusArrived    AppointmentStatus = "arrived"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

type SyncStatus string

const (
	SyncNotAttempted SyncStatus = "not_attempted"
	SyncSucceeded    SyncStatus = "succeeded"
	SyncFailed       SyncStatus = "failed"
)

type ConsultationMode string

const (
	ModeInPerson ConsultationMode = "in_person"
	ModeRemote   ConsultationMode = "remote"
)

type PatientCategory string

const (
	CategoryNew       PatientCategory = "new"
	CategoryReturning PatientCategory = "returning"
)

type Patient struct {
	ID                  uuid.UUID
	NationalID          string
	FullName            string
	DateOfBirth         *time.Time
	Gender              *string
	Address             *string
	Phone               string
	Email               *string
	MedicalRecordNumber *string
	Category            PatientCategory
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Doctor struct {
	ID           uuid.UUID
	Name         string
	Specialty    *string
	RegistryCode *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScheduleTemplate is a recurring (day-of-week) or exact-date availability
// window. Either DayOfWeek or OnDate is set; an exact-date template shadows
// recurring templates for the same doctor and date.
type ScheduleTemplate struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	DayOfWeek   *time.Weekday
	OnDate      *time.Time
	StartTime   TimeOfDay
	EndTime     TimeOfDay
	Capacity    int
	SlotMinutes int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Appointment struct {
	ID                  uuid.UUID
	PatientID           uuid.UUID
	DoctorID            uuid.UUID
	TemplateID          *uuid.UUID
	VisitDate           time.Time
	VisitTime           TimeOfDay
	Mode                ConsultationMode
	Location            *string
	Fee                 float64
	QueueNumber         int
	Status              AppointmentStatus
	SyncStatus          SyncStatus
	RegistryVisitNumber *string
	LocalQueueRef       *string
	SyncDetail          *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Terminal reports whether no further lifecycle transition is possible.
func (a *Appointment) Terminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusCancelled
}

// Slot is one bookable window emitted by the availability resolver.
type Slot struct {
	TemplateID uuid.UUID
	Start      TimeOfDay
	End        TimeOfDay
	Capacity   int
	Remaining  int
}

// Actor identifies who is driving a lifecycle transition. Authentication is
// handled upstream; the lifecycle guards only need ownership and role.
type Actor struct {
	PatientID *uuid.UUID
	Admin     bool
}

func (a Actor) owns(appt *Appointment) bool {
	return a.PatientID != nil && *a.PatientID == appt.PatientID
}

type BookingEvent struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

const (
	EventBookingCreated     = "BOOKING_CREATED"
	EventBookingCancelled   = "BOOKING_CANCELLED"
	EventBookingRescheduled = "BOOKING_RESCHEDULED"
	EventStatusChanged      = "STATUS_CHANGED"
	EventSyncSucceeded      = "SYNC_SUCCEEDED"
	EventSyncFailed         = "SYNC_FAILED"
)
