package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medihub/booking-sync/internal/config"
	"github.com/medihub/booking-sync/internal/registry"
)

// memRepo is an in-memory Repository honoring the same semantics as the pgx
// implementation: atomic reservation under one lock, conditional status
// updates, write-once medical record numbers.
type memRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*Patient
	byNationalID map[string]uuid.UUID
	doctors      map[uuid.UUID]*Doctor
	templates    map[uuid.UUID][]ScheduleTemplate
	appointments map[uuid.UUID]*Appointment
	counters     map[string]int
	events       []BookingEvent
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:     make(map[uuid.UUID]*Patient),
		byNationalID: make(map[string]uuid.UUID),
		doctors:      make(map[uuid.UUID]*Doctor),
		templates:    make(map[uuid.UUID][]ScheduleTemplate),
		appointments: make(map[uuid.UUID]*Appointment),
		counters:     make(map[string]int),
	}
}

func (r *memRepo) addDoctor(d Doctor) *Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = &d
	return &d
}

func (r *memRepo) addPatient(p Patient) *Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = &p
	r.byNationalID[p.NationalID] = p.ID
	return &p
}

func (r *memRepo) addTemplate(tpl ScheduleTemplate) ScheduleTemplate {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tpl.DoctorID] = append(r.templates[tpl.DoctorID], tpl)
	return tpl
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetPatientByNationalID(_ context.Context, nid string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byNationalID[nid]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *r.patients[id]
	return &cp, nil
}

func (r *memRepo) CreatePatient(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byNationalID[p.NationalID]; exists {
		return fmt.Errorf("%w: national id already registered", ErrConflict)
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.patients[p.ID] = &cp
	r.byNationalID[p.NationalID] = p.ID
	return nil
}

func (r *memRepo) SetMedicalRecordNumber(_ context.Context, patientID uuid.UUID, mrn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[patientID]
	if !ok {
		return ErrPatientNotFound
	}
	if p.MedicalRecordNumber == nil {
		p.MedicalRecordNumber = &mrn
	}
	return nil
}

func (r *memRepo) MarkPatientReturning(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.patients[id]; ok {
		p.Category = CategoryReturning
	}
	return nil
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) ListTemplatesByDoctor(_ context.Context, doctorID uuid.UUID) ([]ScheduleTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScheduleTemplate(nil), r.templates[doctorID]...), nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) ListAppointmentsForDay(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && sameDate(a.VisitDate, date) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) ReserveAppointment(_ context.Context, res Reservation) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Template != nil {
		booked := 0
		for _, a := range r.appointments {
			if a.DoctorID == res.DoctorID && sameDate(a.VisitDate, res.VisitDate) &&
				a.Status != StatusCancelled &&
				a.VisitTime >= res.SlotStart && a.VisitTime < res.SlotEnd {
				booked++
			}
		}
		if booked >= res.Template.Capacity {
			return nil, ErrCapacityExceeded
		}
	}

	key := res.DoctorID.String() + "|" + res.VisitDate.Format("2006-01-02")
	r.counters[key]++

	var templateID *uuid.UUID
	if res.Template != nil {
		id := res.Template.ID
		templateID = &id
	}

	now := time.Now()
	appt := &Appointment{
		ID:          uuid.New(),
		PatientID:   res.PatientID,
		DoctorID:    res.DoctorID,
		TemplateID:  templateID,
		VisitDate:   res.VisitDate,
		VisitTime:   res.VisitTime,
		Mode:        res.Mode,
		Location:    res.Location,
		Fee:         res.Fee,
		QueueNumber: r.counters[key],
		Status:      StatusScheduled,
		SyncStatus:  SyncNotAttempted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.appointments[appt.ID] = appt

	cp := *appt
	return &cp, nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) CancelAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status == StatusCompleted || a.Status == StatusCancelled {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateSyncResult(_ context.Context, id uuid.UUID, status SyncStatus, visitNumber, localRef, detail *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.SyncStatus = status
	a.RegistryVisitNumber = visitNumber
	a.LocalQueueRef = localRef
	a.SyncDetail = detail
	a.UpdatedAt = time.Now()
	return nil
}

func (r *memRepo) FindPendingSync(_ context.Context, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusCancelled {
			continue
		}
		if a.SyncStatus == SyncNotAttempted || a.SyncStatus == SyncFailed {
			out = append(out, *a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev BookingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// fakeTransport is a scriptable registry stand-in.
type fakeTransport struct {
	mu            sync.Mutex
	mode          registry.Mode
	records       map[string]registry.PatientRecord
	failFind      error
	failCreate    error
	failRegister  error
	findMisses    int
	findCalls     int
	createCalls   int
	registerCalls int
	mrnSeq        int
	visitSeq      int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		mode:    registry.ModeBridge,
		records: make(map[string]registry.PatientRecord),
	}
}

func (t *fakeTransport) Mode() registry.Mode { return t.mode }

func (t *fakeTransport) Ping(context.Context) error { return nil }

func (t *fakeTransport) FindPatientByIdentity(_ context.Context, nationalID string) (*registry.PatientRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.findCalls++
	if t.failFind != nil {
		return nil, t.failFind
	}
	if t.findMisses > 0 {
		t.findMisses--
		return nil, nil
	}
	rec, ok := t.records[nationalID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (t *fakeTransport) CreatePatient(_ context.Context, p registry.NewPatient) (*registry.PatientRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.createCalls++
	if t.failCreate != nil {
		return nil, t.failCreate
	}
	if _, exists := t.records[p.NationalID]; exists {
		return nil, &registry.SyncError{Kind: registry.KindConflict, Detail: "duplicate national id"}
	}
	t.mrnSeq++
	rec := registry.PatientRecord{
		MedicalRecordNumber: fmt.Sprintf("%06d", t.mrnSeq),
		FullName:            p.FullName,
	}
	t.records[p.NationalID] = rec
	return &rec, nil
}

func (t *fakeTransport) RegisterVisit(_ context.Context, mrn, doctorCode string, date time.Time) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registerCalls++
	if t.failRegister != nil {
		return "", t.failRegister
	}
	t.visitSeq++
	return fmt.Sprintf("%s-%04d", date.Format("20060102"), t.visitSeq), nil
}

// memLocker serializes per key with in-process mutexes.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithIdentityLock(ctx context.Context, nationalID string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[nationalID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[nationalID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// Fixture helpers

func testConfig() config.Config {
	return config.Config{
		Env:             "test",
		RegistryTimeout: time.Second,
		WorkerBatch:     10,
	}
}

func newTestService(repo Repository, transport registry.Transport) *Service {
	reconciler := NewReconciler(repo, newMemLocker(), transport, zerolog.Nop())
	return NewService(repo, reconciler, transport, testConfig(), zerolog.Nop())
}

func ptr[T any](v T) *T { return &v }

func mondayTemplate(doctorID uuid.UUID, capacity int) ScheduleTemplate {
	monday := time.Monday
	return ScheduleTemplate{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		DayOfWeek:   &monday,
		StartTime:   NewTimeOfDay(8, 0),
		EndTime:     NewTimeOfDay(9, 0),
		Capacity:    capacity,
		SlotMinutes: 30,
		Active:      true,
	}
}

// nextMonday returns a Monday in the future, date only.
func nextMonday() time.Time {
	d := time.Now().AddDate(0, 0, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func testPatientDetails(nid string) *PatientDetails {
	return &PatientDetails{
		NationalID: nid,
		FullName:   "Test Patient",
		Phone:      "+628123456789",
	}
}
