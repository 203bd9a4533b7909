package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bridgeServer(t *testing.T, handler http.HandlerFunc) *HTTPBridge {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPBridge(srv.URL, "test-token", 2*time.Second)
}

func TestHTTPBridgeFindPatient(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		bridge := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/patients/search", r.URL.Path)
			assert.Equal(t, "1234567890123456", r.URL.Query().Get("national_id"))
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"medical_record_number": "004211",
					"full_name":             "Registry Patient",
				},
			})
		})

		rec, err := bridge.FindPatientByIdentity(context.Background(), "1234567890123456")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "004211", rec.MedicalRecordNumber)
		assert.Equal(t, "Registry Patient", rec.FullName)
	})

	t.Run("absent maps 404 to nil without error", func(t *testing.T) {
		bridge := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		rec, err := bridge.FindPatientByIdentity(context.Background(), "1234567890123456")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("server failure is connectivity", func(t *testing.T) {
		bridge := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := bridge.FindPatientByIdentity(context.Background(), "1234567890123456")
		var se *SyncError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, KindConnectivity, se.Kind)
	})
}

func TestHTTPBridgeCreatePatient(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		bridge := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/patients", r.URL.Path)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "1234567890123456", body["national_id"])
			assert.Equal(t, "1990-04-01", body["date_of_birth"])

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"medical_record_number": "004212", "full_name": "New Patient"},
			})
		})

		dob := time.Date(1990, 4, 1, 0, 0, 0, 0, time.UTC)
		rec, err := bridge.CreatePatient(context.Background(), NewPatient{
			NationalID:  "1234567890123456",
			FullName:    "New Patient",
			DateOfBirth: &dob,
			Phone:       "+62",
		})
		require.NoError(t, err)
		assert.Equal(t, "004212", rec.MedicalRecordNumber)
	})

	t.Run("409 is a conflict", func(t *testing.T) {
		bridge := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		})

		_, err := bridge.CreatePatient(context.Background(), NewPatient{NationalID: "1234567890123456", FullName: "Dup", Phone: "+62"})
		assert.True(t, IsConflict(err))
	})

	t.Run("422 is validation", func(t *testing.T) {
		bridge := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		})

		_, err := bridge.CreatePatient(context.Background(), NewPatient{NationalID: "bad", FullName: "Bad", Phone: "+62"})
		var se *SyncError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, KindValidation, se.Kind)
	})
}

func TestHTTPBridgeRegisterVisit(t *testing.T) {
	bridge := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/registrations", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "004211", body["medical_record_number"])
		assert.Equal(t, "DOC0001", body["doctor_code"])
		assert.Equal(t, "2026-09-07", body["visit_date"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"visit_number": "20260907-0001"},
		})
	})

	date := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	visitNumber, err := bridge.RegisterVisit(context.Background(), "004211", "DOC0001", date)
	require.NoError(t, err)
	assert.Equal(t, "20260907-0001", visitNumber)
}

func TestHTTPBridgeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	bridge := NewHTTPBridge(srv.URL, "", 50*time.Millisecond)

	_, err := bridge.FindPatientByIdentity(context.Background(), "1234567890123456")
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindTimeout, se.Kind)
}

func TestHTTPBridgePing(t *testing.T) {
	bridge := bridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	assert.NoError(t, bridge.Ping(context.Background()))
}
