package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DirectStore reaches straight into the registry's database. It only touches
// the patient and visit tables; the registry's own business rules stay on the
// registry's side of the wire.
type DirectStore struct {
	db      *sql.DB
	timeout time.Duration
}

func NewDirectStore(dsn string, timeout time.Duration) (*DirectStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping registry db: %w", err)
	}

	return &DirectStore{db: db, timeout: timeout}, nil
}

func (s *DirectStore) Mode() Mode { return ModeDirect }

func (s *DirectStore) Close() error { return s.db.Close() }

func (s *DirectStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *DirectStore) FindPatientByIdentity(ctx context.Context, nationalID string) (*PatientRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rec PatientRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT medical_record_number, full_name
		FROM registry_patients
		WHERE national_id = $1
	`, nationalID).Scan(&rec.MedicalRecordNumber, &rec.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("find patient", err)
	}

	return &rec, nil
}

func (s *DirectStore) CreatePatient(ctx context.Context, p NewPatient) (*PatientRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rec PatientRecord
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO registry_patients (medical_record_number, national_id, full_name,
			date_of_birth, gender, address, phone, created_at)
		VALUES (lpad(nextval('registry_mrn_seq')::text, 6, '0'), $1, $2, $3, $4, $5, $6, now())
		RETURNING medical_record_number, full_name
	`, p.NationalID, p.FullName, p.DateOfBirth, p.Gender, p.Address, p.Phone).
		Scan(&rec.MedicalRecordNumber, &rec.FullName)
	if err != nil {
		return nil, s.wrap("create patient", err)
	}

	return &rec, nil
}

func (s *DirectStore) RegisterVisit(ctx context.Context, mrn, doctorCode string, date time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var visitNumber string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO registry_visits (visit_number, medical_record_number, doctor_code, visit_date, created_at)
		VALUES (to_char($3::date, 'YYYYMMDD') || '-' || lpad(nextval('registry_visit_seq')::text, 4, '0'),
			$1, $2, $3, now())
		RETURNING visit_number
	`, mrn, doctorCode, date).Scan(&visitNumber)
	if err != nil {
		return "", s.wrap("register visit", err)
	}

	return visitNumber, nil
}

func (s *DirectStore) wrap(op string, err error) *SyncError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return syncError(KindTimeout, op+" timed out", err)
	default:
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch {
			case pqErr.Code == "23505":
				return syncError(KindConflict, op+" hit a uniqueness conflict", err)
			case pqErr.Code.Class() == "23" || pqErr.Code.Class() == "22":
				return syncError(KindValidation, op+" rejected by the registry", err)
			}
		}
		return syncError(KindConnectivity, op+" failed", err)
	}
}
