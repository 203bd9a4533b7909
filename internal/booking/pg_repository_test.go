package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentTestColumns = []string{
	"id", "patient_id", "doctor_id", "template_id", "visit_date", "visit_time",
	"mode", "location", "fee", "queue_number", "status", "sync_status",
	"registry_visit_number", "local_queue_ref", "sync_detail", "created_at", "updated_at",
}

func appointmentRow(appt Appointment) *pgxmock.Rows {
	return pgxmock.NewRows(appointmentTestColumns).AddRow(
		appt.ID, appt.PatientID, appt.DoctorID, appt.TemplateID, appt.VisitDate,
		appt.VisitTime.String(), appt.Mode, appt.Location, appt.Fee, appt.QueueNumber,
		appt.Status, appt.SyncStatus, appt.RegistryVisitNumber, appt.LocalQueueRef,
		appt.SyncDetail, appt.CreatedAt, appt.UpdatedAt,
	)
}

func pgRepoFixture(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return mock, NewPgRepository(mock)
}

func TestReserveAppointmentHappyPath(t *testing.T) {
	mock, repo := pgRepoFixture(t)

	tpl := mondayTemplate(uuid.New(), 2)
	date := nextMonday()
	res := Reservation{
		PatientID: uuid.New(),
		DoctorID:  tpl.DoctorID,
		Template:  &tpl,
		SlotStart: NewTimeOfDay(8, 0),
		SlotEnd:   NewTimeOfDay(8, 30),
		VisitDate: date,
		VisitTime: NewTimeOfDay(8, 0),
		Mode:      ModeInPerson,
		Fee:       50000,
	}

	now := time.Now()
	inserted := Appointment{
		ID:          uuid.New(),
		PatientID:   res.PatientID,
		DoctorID:    res.DoctorID,
		TemplateID:  &tpl.ID,
		VisitDate:   date,
		VisitTime:   res.VisitTime,
		Mode:        ModeInPerson,
		Fee:         50000,
		QueueNumber: 4,
		Status:      StatusScheduled,
		SyncStatus:  SyncNotAttempted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT capacity").
		WithArgs(tpl.ID).
		WillReturnRows(pgxmock.NewRows([]string{"capacity"}).AddRow(2))
	mock.ExpectQuery("SELECT count").
		WithArgs(res.DoctorID, date, "08:00", "08:30").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO queue_counters").
		WithArgs(res.DoctorID, date).
		WillReturnRows(pgxmock.NewRows([]string{"last_value"}).AddRow(4))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), res.PatientID, res.DoctorID, &tpl.ID, date, "08:00",
			ModeInPerson, (*string)(nil), 50000.0, 4).
		WillReturnRows(appointmentRow(inserted))
	mock.ExpectExec("INSERT INTO booking_events").
		WithArgs(EventBookingCreated, inserted.ID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	appt, err := repo.ReserveAppointment(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, inserted.ID, appt.ID)
	assert.Equal(t, 4, appt.QueueNumber)
	assert.Equal(t, NewTimeOfDay(8, 0), appt.VisitTime)
}

func TestReserveAppointmentCapacityExceeded(t *testing.T) {
	mock, repo := pgRepoFixture(t)

	tpl := mondayTemplate(uuid.New(), 2)
	date := nextMonday()
	res := Reservation{
		PatientID: uuid.New(),
		DoctorID:  tpl.DoctorID,
		Template:  &tpl,
		SlotStart: NewTimeOfDay(8, 0),
		SlotEnd:   NewTimeOfDay(8, 30),
		VisitDate: date,
		VisitTime: NewTimeOfDay(8, 0),
		Mode:      ModeInPerson,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT capacity").
		WithArgs(tpl.ID).
		WillReturnRows(pgxmock.NewRows([]string{"capacity"}).AddRow(2))
	mock.ExpectQuery("SELECT count").
		WithArgs(res.DoctorID, date, "08:00", "08:30").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	_, err := repo.ReserveAppointment(context.Background(), res)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestReserveAppointmentAdHocSkipsCapacityCheck(t *testing.T) {
	mock, repo := pgRepoFixture(t)

	doctorID := uuid.New()
	date := nextMonday()
	res := Reservation{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		VisitDate: date,
		VisitTime: NewTimeOfDay(10, 15),
		Mode:      ModeRemote,
	}

	now := time.Now()
	inserted := Appointment{
		ID:          uuid.New(),
		PatientID:   res.PatientID,
		DoctorID:    doctorID,
		VisitDate:   date,
		VisitTime:   res.VisitTime,
		Mode:        ModeRemote,
		QueueNumber: 1,
		Status:      StatusScheduled,
		SyncStatus:  SyncNotAttempted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO queue_counters").
		WithArgs(doctorID, date).
		WillReturnRows(pgxmock.NewRows([]string{"last_value"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), res.PatientID, doctorID, (*uuid.UUID)(nil), date, "10:15",
			ModeRemote, (*string)(nil), 0.0, 1).
		WillReturnRows(appointmentRow(inserted))
	mock.ExpectExec("INSERT INTO booking_events").
		WithArgs(EventBookingCreated, inserted.ID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	appt, err := repo.ReserveAppointment(context.Background(), res)
	require.NoError(t, err)
	assert.Nil(t, appt.TemplateID)
	assert.Equal(t, 1, appt.QueueNumber)
}

func TestUpdateAppointmentStatusConditional(t *testing.T) {
	mock, repo := pgRepoFixture(t)
	id := uuid.New()

	t.Run("matching from-status updates", func(t *testing.T) {
		now := time.Now()
		updated := Appointment{
			ID: id, PatientID: uuid.New(), DoctorID: uuid.New(),
			VisitDate: nextMonday(), VisitTime: NewTimeOfDay(8, 0),
			Mode: ModeInPerson, QueueNumber: 1,
			Status: StatusConfirmed, SyncStatus: SyncSucceeded,
			CreatedAt: now, UpdatedAt: now,
		}

		mock.ExpectQuery("UPDATE appointments").
			WithArgs(id, StatusConfirmed, StatusScheduled).
			WillReturnRows(appointmentRow(updated))

		appt, err := repo.UpdateAppointmentStatus(context.Background(), id, StatusScheduled, StatusConfirmed)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, appt.Status)
	})

	t.Run("stale from-status matches no row", func(t *testing.T) {
		mock.ExpectQuery("UPDATE appointments").
			WithArgs(id, StatusConfirmed, StatusScheduled).
			WillReturnRows(pgxmock.NewRows(appointmentTestColumns))

		_, err := repo.UpdateAppointmentStatus(context.Background(), id, StatusScheduled, StatusConfirmed)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})
}

func TestCancelAppointmentTerminalMatchesNoRow(t *testing.T) {
	mock, repo := pgRepoFixture(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(appointmentTestColumns))

	_, err := repo.CancelAppointment(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestCreatePatientUniqueViolationIsConflict(t *testing.T) {
	mock, repo := pgRepoFixture(t)

	p := &Patient{
		ID:         uuid.New(),
		NationalID: "1234567890123456",
		FullName:   "Dup Patient",
		Phone:      "+62",
		Category:   CategoryNew,
	}

	mock.ExpectQuery("INSERT INTO patients").
		WithArgs(p.ID, p.NationalID, p.FullName, p.DateOfBirth, p.Gender, p.Address,
			p.Phone, p.Email, p.MedicalRecordNumber, p.Category).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.CreatePatient(context.Background(), p)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetPatientByNationalIDNotFound(t *testing.T) {
	mock, repo := pgRepoFixture(t)

	mock.ExpectQuery("SELECT (.+) FROM patients").
		WithArgs("0000000000000000").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.GetPatientByNationalID(context.Background(), "0000000000000000")
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestSetMedicalRecordNumber(t *testing.T) {
	mock, repo := pgRepoFixture(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE patients").
		WithArgs(id, "004211").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.SetMedicalRecordNumber(context.Background(), id, "004211"))
}
