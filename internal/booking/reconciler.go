package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	redisclient "github.com/medihub/booking-sync/internal/redis"
	"github.com/medihub/booking-sync/internal/registry"
)

// Reconciler maps a local patient to the registry's canonical medical-record
// number: at most one remote lookup and at most one remote creation per call.
type Reconciler struct {
	repo      Repository
	locker    redisclient.Locker
	transport registry.Transport
	log       zerolog.Logger
}

func NewReconciler(repo Repository, locker redisclient.Locker, transport registry.Transport, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		repo:      repo,
		locker:    locker,
		transport: transport,
		log:       log,
	}
}

// EnsureMedicalRecord returns the patient's external medical-record number,
// creating the registry record if absent. The find-then-create window is
// serialized per national identity number with a distributed lock, and a
// registry uniqueness conflict on create is recovered by retrying as a
// lookup, so concurrent first bookings cannot mint two records for one
// person. The cached fast path makes repeat calls idempotent and free of
// remote traffic.
func (r *Reconciler) EnsureMedicalRecord(ctx context.Context, patient *Patient) (string, error) {
	if patient.MedicalRecordNumber != nil {
		return *patient.MedicalRecordNumber, nil
	}

	var mrn string
	err := r.locker.WithIdentityLock(ctx, patient.NationalID, func(lockCtx context.Context) error {
		// A concurrent booking may have reconciled while we waited.
		fresh, err := r.repo.GetPatientByID(lockCtx, patient.ID)
		if err != nil {
			return fmt.Errorf("reload patient: %w", err)
		}
		if fresh.MedicalRecordNumber != nil {
			mrn = *fresh.MedicalRecordNumber
			return nil
		}

		rec, err := r.transport.FindPatientByIdentity(lockCtx, fresh.NationalID)
		if err != nil {
			return err
		}

		if rec == nil {
			rec, err = r.transport.CreatePatient(lockCtx, registry.NewPatient{
				NationalID:  fresh.NationalID,
				FullName:    fresh.FullName,
				DateOfBirth: fresh.DateOfBirth,
				Gender:      fresh.Gender,
				Address:     fresh.Address,
				Phone:       fresh.Phone,
			})
			if registry.IsConflict(err) {
				r.log.Warn().Str("national_id", fresh.NationalID).
					Msg("registry rejected duplicate patient, retrying as lookup")
				rec, err = r.transport.FindPatientByIdentity(lockCtx, fresh.NationalID)
				if err == nil && rec == nil {
					err = &registry.SyncError{
						Kind:   registry.KindConflict,
						Detail: "create conflicted but lookup found no record",
					}
				}
			}
			if err != nil {
				return err
			}
		}

		if err := r.repo.SetMedicalRecordNumber(lockCtx, fresh.ID, rec.MedicalRecordNumber); err != nil {
			return err
		}

		mrn = rec.MedicalRecordNumber
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return "", &registry.SyncError{
				Kind:   registry.KindConflict,
				Detail: "identity is being reconciled by a concurrent request",
				Err:    err,
			}
		}
		return "", err
	}

	patient.MedicalRecordNumber = &mrn
	return mrn, nil
}
