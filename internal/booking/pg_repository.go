package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies it
// too, which is what the repository tests run against.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const (
	uniqueViolation = "23505"

	patientColumns = `id, national_id, full_name, date_of_birth, gender, address, phone, email,
		medical_record_number, category, created_at, updated_at`

	appointmentColumns = `id, patient_id, doctor_id, template_id, visit_date, visit_time::text,
		mode, location, fee, queue_number, status, sync_status,
		registry_visit_number, local_queue_ref, sync_detail, created_at, updated_at`
)

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.NationalID,
		&p.FullName,
		&p.DateOfBirth,
		&p.Gender,
		&p.Address,
		&p.Phone,
		&p.Email,
		&p.MedicalRecordNumber,
		&p.Category,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.RegistryCode,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanTemplate(row pgx.Row) (*ScheduleTemplate, error) {
	var (
		tpl       ScheduleTemplate
		dayOfWeek *int16
		startTime string
		endTime   string
	)

	err := row.Scan(
		&tpl.ID,
		&tpl.DoctorID,
		&dayOfWeek,
		&tpl.OnDate,
		&startTime,
		&endTime,
		&tpl.Capacity,
		&tpl.SlotMinutes,
		&tpl.Active,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	if dayOfWeek != nil {
		wd := time.Weekday(*dayOfWeek)
		tpl.DayOfWeek = &wd
	}
	if tpl.StartTime, err = ParseTimeOfDay(startTime); err != nil {
		return nil, fmt.Errorf("template start time: %w", err)
	}
	if tpl.EndTime, err = ParseTimeOfDay(endTime); err != nil {
		return nil, fmt.Errorf("template end time: %w", err)
	}

	return &tpl, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a         Appointment
		visitTime string
	)

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.TemplateID,
		&a.VisitDate,
		&visitTime,
		&a.Mode,
		&a.Location,
		&a.Fee,
		&a.QueueNumber,
		&a.Status,
		&a.SyncStatus,
		&a.RegistryVisitNumber,
		&a.LocalQueueRef,
		&a.SyncDetail,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.VisitTime, err = ParseTimeOfDay(visitTime); err != nil {
		return nil, fmt.Errorf("appointment visit time: %w", err)
	}

	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Patients

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByNationalID(ctx context.Context, nationalID string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE national_id = $1
	`, nationalID)
	return scanPatient(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO patients (id, national_id, full_name, date_of_birth, gender, address,
			phone, email, medical_record_number, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.NationalID, p.FullName, p.DateOfBirth, p.Gender, p.Address,
		p.Phone, p.Email, p.MedicalRecordNumber, p.Category)

	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: national id already registered", ErrConflict)
		}
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (r *PgRepository) SetMedicalRecordNumber(ctx context.Context, patientID uuid.UUID, mrn string) error {
	// No-op when a number is already assigned: it is immutable once set.
	_, err := r.db.Exec(ctx, `
		UPDATE patients
		SET medical_record_number = $2,
		    updated_at = now()
		WHERE id = $1
		  AND medical_record_number IS NULL
	`, patientID, mrn)
	if err != nil {
		return fmt.Errorf("set medical record number: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkPatientReturning(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE patients
		SET category = 'returning',
		    updated_at = now()
		WHERE id = $1
		  AND category <> 'returning'
	`, id)
	if err != nil {
		return fmt.Errorf("mark patient returning: %w", err)
	}
	return nil
}

// Doctors and templates

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, registry_code, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListTemplatesByDoctor(ctx context.Context, doctorID uuid.UUID) ([]ScheduleTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doctor_id, day_of_week, on_date, start_time::text, end_time::text,
		       capacity, slot_minutes, active, created_at, updated_at
		FROM schedule_templates
		WHERE doctor_id = $1
		  AND active
		ORDER BY start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScheduleTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tpl)
	}

	return result, rows.Err()
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND visit_date = $2
		ORDER BY queue_number
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY visit_date DESC, visit_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// ReserveAppointment is the atomic reservation unit: it locks the template
// row to serialize the capacity check against concurrent bookings for the
// same window, draws the next queue number from a per-(doctor, date) counter
// upsert, and inserts the appointment, all in one transaction.
func (r *PgRepository) ReserveAppointment(ctx context.Context, res Reservation) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reservation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if res.Template != nil {
		var capacity int
		err := tx.QueryRow(ctx, `
			SELECT capacity
			FROM schedule_templates
			WHERE id = $1
			FOR UPDATE
		`, res.Template.ID).Scan(&capacity)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrTemplateNotFound
			}
			return nil, fmt.Errorf("lock template: %w", err)
		}

		var booked int
		err = tx.QueryRow(ctx, `
			SELECT count(*)
			FROM appointments
			WHERE doctor_id = $1
			  AND visit_date = $2
			  AND status <> 'cancelled'
			  AND visit_time >= $3::time
			  AND visit_time < $4::time
		`, res.DoctorID, res.VisitDate, res.SlotStart.String(), res.SlotEnd.String()).Scan(&booked)
		if err != nil {
			return nil, fmt.Errorf("count booked: %w", err)
		}

		if booked >= capacity {
			return nil, ErrCapacityExceeded
		}
	}

	var queueNumber int
	err = tx.QueryRow(ctx, `
		INSERT INTO queue_counters (doctor_id, visit_date, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (doctor_id, visit_date)
		DO UPDATE SET last_value = queue_counters.last_value + 1
		RETURNING last_value
	`, res.DoctorID, res.VisitDate).Scan(&queueNumber)
	if err != nil {
		return nil, fmt.Errorf("assign queue number: %w", err)
	}

	var templateID *uuid.UUID
	if res.Template != nil {
		templateID = &res.Template.ID
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, template_id, visit_date, visit_time,
			mode, location, fee, queue_number, status, sync_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::time, $7, $8, $9, $10, 'scheduled', 'not_attempted', now(), now())
		RETURNING `+appointmentColumns+`
	`, id, res.PatientID, res.DoctorID, templateID, res.VisitDate, res.VisitTime.String(),
		res.Mode, res.Location, res.Fee, queueNumber)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: queue number taken", ErrConflict)
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, EventBookingCreated, appt.ID, []byte(fmt.Sprintf(`{"queue_number":%d}`, queueNumber)))
	if err != nil {
		return nil, fmt.Errorf("insert booking event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'cancelled')
		RETURNING `+appointmentColumns+`
	`, id)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateSyncResult(ctx context.Context, id uuid.UUID, status SyncStatus, visitNumber, localRef, detail *string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET sync_status = $2,
		    registry_visit_number = $3,
		    local_queue_ref = $4,
		    sync_detail = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, status, visitNumber, localRef, detail)
	if err != nil {
		return fmt.Errorf("update sync result: %w", err)
	}
	return nil
}

func (r *PgRepository) FindPendingSync(ctx context.Context, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE sync_status IN ('not_attempted', 'failed')
		  AND status <> 'cancelled'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev BookingEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO booking_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
