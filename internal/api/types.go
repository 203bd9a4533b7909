package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medihub/booking-sync/internal/booking"
)

type PatientPayload struct {
	NationalID  string  `json:"national_id"`
	FullName    string  `json:"full_name"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	Gender      *string `json:"gender,omitempty"`
	Address     *string `json:"address,omitempty"`
	Phone       string  `json:"phone"`
	Email       *string `json:"email,omitempty"`
}

type CreateBookingRequest struct {
	PatientID *string         `json:"patient_id,omitempty"`
	Patient   *PatientPayload `json:"patient,omitempty"`
	DoctorID  string          `json:"doctor_id"`
	Date      string          `json:"date"`
	Time      string          `json:"time"`
	Mode      string          `json:"mode"`
	Location  *string         `json:"location,omitempty"`
	Fee       float64         `json:"fee"`
	AdHoc     bool            `json:"ad_hoc,omitempty"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type SyncPayload struct {
	Transport           string  `json:"transport"`
	Status              string  `json:"status"`
	MedicalRecordNumber *string `json:"medical_record_number,omitempty"`
	VisitNumber         *string `json:"visit_number,omitempty"`
	LocalQueueRef       *string `json:"local_queue_ref,omitempty"`
	Detail              *string `json:"detail,omitempty"`
}

type AppointmentResponse struct {
	ID                  uuid.UUID `json:"id"`
	PatientID           uuid.UUID `json:"patient_id"`
	DoctorID            uuid.UUID `json:"doctor_id"`
	Date                string    `json:"date"`
	Time                string    `json:"time"`
	Mode                string    `json:"mode"`
	Location            *string   `json:"location,omitempty"`
	Fee                 float64   `json:"fee"`
	QueueNumber         int       `json:"queue_number"`
	Status              string    `json:"status"`
	SyncStatus          string    `json:"sync_status"`
	RegistryVisitNumber *string   `json:"registry_visit_number,omitempty"`
	LocalQueueRef       *string   `json:"local_queue_ref,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type BookingResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Sync        SyncPayload         `json:"sync"`
	Message     string              `json:"message"`
}

type SlotResponse struct {
	TemplateID uuid.UUID `json:"template_id"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	Capacity   int       `json:"capacity"`
	Remaining  int       `json:"remaining"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func appointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                  a.ID,
		PatientID:           a.PatientID,
		DoctorID:            a.DoctorID,
		Date:                a.VisitDate.Format("2006-01-02"),
		Time:                a.VisitTime.String(),
		Mode:                string(a.Mode),
		Location:            a.Location,
		Fee:                 a.Fee,
		QueueNumber:         a.QueueNumber,
		Status:              string(a.Status),
		SyncStatus:          string(a.SyncStatus),
		RegistryVisitNumber: a.RegistryVisitNumber,
		LocalQueueRef:       a.LocalQueueRef,
		CreatedAt:           a.CreatedAt,
	}
}

func bookingResponse(result *booking.BookingResult) BookingResponse {
	resp := BookingResponse{
		Appointment: appointmentResponse(result.Appointment),
		Sync: SyncPayload{
			Transport:           string(result.Sync.Transport),
			Status:              string(result.Sync.Status),
			MedicalRecordNumber: result.Sync.MedicalRecordNumber,
			VisitNumber:         result.Sync.VisitNumber,
			LocalQueueRef:       result.Sync.LocalQueueRef,
			Detail:              result.Sync.Detail,
		},
	}

	switch result.Sync.Status {
	case booking.SyncSucceeded:
		resp.Message = "booked and confirmed with hospital records"
	default:
		resp.Message = "booked, pending confirmation with hospital records"
	}

	return resp
}
