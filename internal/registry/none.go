package registry

import (
	"context"
	"time"
)

// NoneTransport is the local-only strategy. The orchestrator short-circuits
// on ModeNone before calling the registry; these methods exist as a fail-safe
// for callers that do not.
type NoneTransport struct{}

func NewNoneTransport() *NoneTransport { return &NoneTransport{} }

func (*NoneTransport) Mode() Mode { return ModeNone }

func (*NoneTransport) Ping(context.Context) error { return nil }

func (*NoneTransport) FindPatientByIdentity(context.Context, string) (*PatientRecord, error) {
	return nil, notConfigured()
}

func (*NoneTransport) CreatePatient(context.Context, NewPatient) (*PatientRecord, error) {
	return nil, notConfigured()
}

func (*NoneTransport) RegisterVisit(context.Context, string, string, time.Time) (string, error) {
	return "", notConfigured()
}

func notConfigured() *SyncError {
	return syncError(KindConnectivity, "registry transport not configured", nil)
}
