package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medihub/booking-sync/internal/config"
	"github.com/medihub/booking-sync/internal/registry"
)

var nationalIDPattern = regexp.MustCompile(`^[0-9]{16}$`)

// PatientDetails describes a patient to be created (or matched by national
// identity number) as part of a booking.
type PatientDetails struct {
	NationalID  string
	FullName    string
	DateOfBirth *time.Time
	Gender      *string
	Address     *string
	Phone       string
	Email       *string
}

// BookingRequest is the orchestrator input. Either PatientID (existing) or
// Patient (to be resolved or created) must be set.
type BookingRequest struct {
	PatientID *uuid.UUID
	Patient   *PatientDetails
	DoctorID  uuid.UUID
	Date      time.Time
	Time      TimeOfDay
	Mode      ConsultationMode
	Location  *string
	Fee       float64
	// AdHoc books outside any schedule template: no capacity check, but a
	// queue number is still drawn.
	AdHoc bool
}

// SyncOutcome describes one reconciliation attempt. It never blocks or fails
// the local booking.
type SyncOutcome struct {
	Transport           registry.Mode
	Status              SyncStatus
	MedicalRecordNumber *string
	VisitNumber         *string
	LocalQueueRef       *string
	Detail              *string
}

type BookingResult struct {
	Appointment *Appointment
	Sync        SyncOutcome
}

type Service struct {
	repo       Repository
	reconciler *Reconciler
	transport  registry.Transport
	cfg        config.Config
	log        zerolog.Logger
}

func NewService(repo Repository, reconciler *Reconciler, transport registry.Transport, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		reconciler: reconciler,
		transport:  transport,
		cfg:        cfg,
		log:        log,
	}
}

// Availability returns the open slots for a doctor on a date.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, date time.Time, policy OverlapPolicy) ([]Slot, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	templates, err := s.repo.ListTemplatesByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	appointments, err := s.repo.ListAppointmentsForDay(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	return ResolveSlots(templates, appointments, date, policy), nil
}

// Book reserves a slot for a patient. The local reservation (patient
// resolution, capacity check, queue number, insert) is all-or-nothing; the
// registry sync afterwards is best-effort and its outcome is recorded on the
// appointment, never undoing the local booking.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	if err := validateBookingRequest(req); err != nil {
		return nil, err
	}

	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}

	patient, existed, err := s.resolvePatient(ctx, req)
	if err != nil {
		return nil, err
	}

	res := Reservation{
		PatientID: patient.ID,
		DoctorID:  doctor.ID,
		VisitDate: req.Date,
		VisitTime: req.Time,
		Mode:      req.Mode,
		Location:  req.Location,
		Fee:       req.Fee,
	}

	if !req.AdHoc {
		tpl, slotStart, slotEnd, err := s.findCoveringTemplate(ctx, doctor.ID, req.Date, req.Time)
		if err != nil {
			return nil, err
		}
		res.Template = tpl
		res.SlotStart = slotStart
		res.SlotEnd = slotEnd
	}

	appt, err := s.repo.ReserveAppointment(ctx, res)
	if err != nil {
		return nil, err
	}

	if existed {
		if err := s.repo.MarkPatientReturning(ctx, patient.ID); err != nil {
			s.log.Warn().Err(err).Stringer("patient_id", patient.ID).Msg("mark returning failed")
		}
	}

	sync := s.syncAppointment(ctx, appt, patient, doctor)

	return &BookingResult{Appointment: appt, Sync: sync}, nil
}

// ResyncAppointment re-runs only the registry sync step for an appointment
// whose earlier attempt did not succeed.
func (s *Service) ResyncAppointment(ctx context.Context, id uuid.UUID) (*BookingResult, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled {
		return nil, invalidInput("cancelled appointment cannot be resynced")
	}
	if appt.SyncStatus == SyncSucceeded {
		return nil, invalidInput("appointment is already synced")
	}

	patient, err := s.repo.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}

	sync := s.syncAppointment(ctx, appt, patient, doctor)
	return &BookingResult{Appointment: appt, Sync: sync}, nil
}

// ResyncPending sweeps appointments whose sync is outstanding. Called by the
// resync worker.
func (s *Service) ResyncPending(ctx context.Context) (int, error) {
	pending, err := s.repo.FindPendingSync(ctx, s.cfg.WorkerBatch)
	if err != nil {
		return 0, fmt.Errorf("find pending sync: %w", err)
	}

	synced := 0
	for i := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		result, err := s.ResyncAppointment(ctx, pending[i].ID)
		if err != nil {
			s.log.Warn().Err(err).Stringer("appointment_id", pending[i].ID).Msg("resync skipped")
			continue
		}
		if result.Sync.Status == SyncSucceeded {
			synced++
		}
	}

	return synced, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ListAppointmentsForDay(ctx, doctorID, date)
}

// Internals

func validateBookingRequest(req BookingRequest) error {
	if req.PatientID == nil && req.Patient == nil {
		return invalidInput("either patient_id or patient details are required")
	}
	if req.Patient != nil {
		if !nationalIDPattern.MatchString(req.Patient.NationalID) {
			return invalidInput("national identity number must be 16 digits")
		}
		if req.Patient.Phone == "" {
			return invalidInput("phone is required")
		}
		if req.Patient.FullName == "" {
			return invalidInput("full name is required")
		}
	}
	if req.Date.IsZero() {
		return invalidInput("date is required")
	}
	switch req.Mode {
	case ModeInPerson, ModeRemote:
	default:
		return invalidInput("mode must be in_person or remote")
	}
	if req.Fee < 0 {
		return invalidInput("fee must not be negative")
	}
	return nil
}

// resolvePatient finds the local patient or creates one on first booking.
// existed reports whether the patient was known before this call.
func (s *Service) resolvePatient(ctx context.Context, req BookingRequest) (patient *Patient, existed bool, err error) {
	if req.PatientID != nil {
		p, err := s.repo.GetPatientByID(ctx, *req.PatientID)
		return p, true, err
	}

	p, err := s.repo.GetPatientByNationalID(ctx, req.Patient.NationalID)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, ErrPatientNotFound) {
		return nil, false, err
	}

	p = &Patient{
		ID:          uuid.New(),
		NationalID:  req.Patient.NationalID,
		FullName:    req.Patient.FullName,
		DateOfBirth: req.Patient.DateOfBirth,
		Gender:      req.Patient.Gender,
		Address:     req.Patient.Address,
		Phone:       req.Patient.Phone,
		Email:       req.Patient.Email,
		Category:    CategoryNew,
	}
	if err := s.repo.CreatePatient(ctx, p); err != nil {
		// Concurrent first booking won the insert; reuse its row.
		if errors.Is(err, ErrConflict) {
			p, err = s.repo.GetPatientByNationalID(ctx, req.Patient.NationalID)
			return p, true, err
		}
		return nil, false, err
	}

	return p, false, nil
}

// findCoveringTemplate picks the template whose window contains the requested
// time on the requested date, and the aligned slot boundaries within it.
func (s *Service) findCoveringTemplate(ctx context.Context, doctorID uuid.UUID, date time.Time, t TimeOfDay) (*ScheduleTemplate, TimeOfDay, TimeOfDay, error) {
	templates, err := s.repo.ListTemplatesByDoctor(ctx, doctorID)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list templates: %w", err)
	}

	for _, tpl := range TemplatesForDate(templates, date) {
		if start, end, ok := SlotWindow(tpl, t); ok {
			matched := tpl
			return &matched, start, end, nil
		}
	}

	return nil, 0, 0, invalidInput("no schedule covers %s on %s", t, date.Format("2006-01-02"))
}

// syncAppointment is step 5 of the booking flow: reconcile the patient
// identity and register the visit with the registry, bounded by the
// configured timeout and detached from request cancellation so the recorded
// outcome survives a dropped client. All failures are downgraded to a
// recorded status.
func (s *Service) syncAppointment(parent context.Context, appt *Appointment, patient *Patient, doctor *Doctor) SyncOutcome {
	localRef := localQueueRef(appt)

	if s.transport.Mode() == registry.ModeNone {
		outcome := SyncOutcome{
			Transport:     registry.ModeNone,
			Status:        SyncNotAttempted,
			LocalQueueRef: &localRef,
		}
		s.recordSyncOutcome(parent, appt, outcome)
		return outcome
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.RegistryTimeout)
	defer cancel()

	mrn, err := s.reconciler.EnsureMedicalRecord(ctx, patient)
	if err != nil {
		return s.failSync(parent, appt, localRef, fmt.Errorf("reconcile identity: %w", err))
	}

	if doctor.RegistryCode == nil || *doctor.RegistryCode == "" {
		return s.failSync(parent, appt, localRef, fmt.Errorf("doctor %s has no registry code", doctor.ID))
	}

	visitNumber, err := s.transport.RegisterVisit(ctx, mrn, *doctor.RegistryCode, appt.VisitDate)
	if err != nil {
		return s.failSync(parent, appt, localRef, fmt.Errorf("register visit: %w", err))
	}

	outcome := SyncOutcome{
		Transport:           s.transport.Mode(),
		Status:              SyncSucceeded,
		MedicalRecordNumber: &mrn,
		VisitNumber:         &visitNumber,
	}
	s.recordSyncOutcome(parent, appt, outcome)
	return outcome
}

func (s *Service) failSync(ctx context.Context, appt *Appointment, localRef string, cause error) SyncOutcome {
	detail := cause.Error()
	s.log.Warn().Err(cause).Stringer("appointment_id", appt.ID).Msg("registry sync failed")

	outcome := SyncOutcome{
		Transport:     s.transport.Mode(),
		Status:        SyncFailed,
		LocalQueueRef: &localRef,
		Detail:        &detail,
	}
	s.recordSyncOutcome(ctx, appt, outcome)
	return outcome
}

// recordSyncOutcome makes the outcome durable and queryable so the resync
// worker can find and repair failures later.
func (s *Service) recordSyncOutcome(parent context.Context, appt *Appointment, outcome SyncOutcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()

	err := s.repo.UpdateSyncResult(ctx, appt.ID, outcome.Status, outcome.VisitNumber, outcome.LocalQueueRef, outcome.Detail)
	if err != nil {
		s.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("record sync outcome failed")
		return
	}

	appt.SyncStatus = outcome.Status
	appt.RegistryVisitNumber = outcome.VisitNumber
	appt.LocalQueueRef = outcome.LocalQueueRef
	appt.SyncDetail = outcome.Detail

	eventType := EventSyncFailed
	if outcome.Status == SyncSucceeded {
		eventType = EventSyncSucceeded
	} else if outcome.Status == SyncNotAttempted {
		return
	}
	s.logEvent(ctx, appt.ID, eventType, map[string]any{
		"transport": string(outcome.Transport),
	})
}

func localQueueRef(appt *Appointment) string {
	return fmt.Sprintf("LOCAL-%s-%03d", appt.VisitDate.Format("20060102"), appt.QueueNumber)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := BookingEvent{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Stringer("appointment_id", appointmentID).Msg("insert event log")
	}
}
