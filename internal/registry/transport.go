// Package registry talks to the external hospital information system that
// owns medical-record numbers and daily visit queues. Exactly one transport
// strategy is selected at startup: direct access to the registry's data
// store, an HTTP bridge, or none at all (local-only mode).
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Mode string

const (
	ModeDirect Mode = "direct"
	ModeBridge Mode = "bridge"
	ModeNone   Mode = "none"
)

// PatientRecord is the registry's view of a patient.
type PatientRecord struct {
	MedicalRecordNumber string
	FullName            string
}

// NewPatient carries the fields the registry needs to open a record.
type NewPatient struct {
	NationalID  string
	FullName    string
	DateOfBirth *time.Time
	Gender      *string
	Address     *string
	Phone       string
}

// Transport is the narrow contract both strategies implement.
type Transport interface {
	Mode() Mode
	// FindPatientByIdentity returns (nil, nil) when the registry holds no
	// record for the national identity number.
	FindPatientByIdentity(ctx context.Context, nationalID string) (*PatientRecord, error)
	CreatePatient(ctx context.Context, p NewPatient) (*PatientRecord, error)
	RegisterVisit(ctx context.Context, mrn, doctorCode string, date time.Time) (string, error)
	Ping(ctx context.Context) error
}

type ErrorKind string

const (
	KindConnectivity ErrorKind = "connectivity"
	KindValidation   ErrorKind = "validation"
	KindTimeout      ErrorKind = "timeout"
	KindConflict     ErrorKind = "conflict"
)

// SyncError is the uniform failure surface for both transports. It is always
// recorded, never escalated to a booking failure.
type SyncError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry sync %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("registry sync %s: %s", e.Kind, e.Detail)
}

func (e *SyncError) Unwrap() error { return e.Err }

func syncError(kind ErrorKind, detail string, err error) *SyncError {
	return &SyncError{Kind: kind, Detail: detail, Err: err}
}

// IsConflict reports whether err is a registry uniqueness conflict, which the
// reconciler recovers from by retrying as a lookup.
func IsConflict(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Kind == KindConflict
}

// Config holds the connection parameters for both strategies. Presence of
// DirectDSN selects the direct transport; otherwise a BridgeURL selects the
// HTTP bridge; with neither the system runs local-only.
type Config struct {
	DirectDSN   string
	BridgeURL   string
	BridgeToken string
	Timeout     time.Duration
}

// Select makes the process-lifetime transport decision. It is called once at
// startup; transports never fail over between strategies at runtime.
func Select(cfg Config, log zerolog.Logger) (Transport, error) {
	switch {
	case cfg.DirectDSN != "":
		t, err := NewDirectStore(cfg.DirectDSN, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("direct registry transport: %w", err)
		}
		log.Info().Str("transport", string(ModeDirect)).Msg("registry transport selected")
		return t, nil
	case cfg.BridgeURL != "":
		log.Info().Str("transport", string(ModeBridge)).Str("base_url", cfg.BridgeURL).Msg("registry transport selected")
		return NewHTTPBridge(cfg.BridgeURL, cfg.BridgeToken, cfg.Timeout), nil
	default:
		log.Warn().Msg("no registry transport configured, running local-only")
		return NewNoneTransport(), nil
	}
}
