package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPBridge speaks to a small REST facade in front of the registry. Used
// when direct data-store access is not configured.
type HTTPBridge struct {
	client *resty.Client
}

func NewHTTPBridge(baseURL, token string, timeout time.Duration) *HTTPBridge {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPBridge{client: client}
}

func (b *HTTPBridge) Mode() Mode { return ModeBridge }

type bridgePatient struct {
	MedicalRecordNumber string `json:"medical_record_number"`
	FullName            string `json:"full_name"`
}

type bridgePatientResponse struct {
	Data bridgePatient `json:"data"`
}

type bridgeVisitResponse struct {
	Data struct {
		VisitNumber string `json:"visit_number"`
	} `json:"data"`
}

type bridgeCreatePatientRequest struct {
	NationalID  string  `json:"national_id"`
	FullName    string  `json:"full_name"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	Gender      *string `json:"gender,omitempty"`
	Address     *string `json:"address,omitempty"`
	Phone       string  `json:"phone"`
}

type bridgeRegisterVisitRequest struct {
	MedicalRecordNumber string `json:"medical_record_number"`
	DoctorCode          string `json:"doctor_code"`
	VisitDate           string `json:"visit_date"`
}

func (b *HTTPBridge) Ping(ctx context.Context) error {
	resp, err := b.client.R().SetContext(ctx).Get("/api/v1/health")
	if err != nil {
		return b.wrap("ping", err)
	}
	if resp.IsError() {
		return b.status("ping", resp)
	}
	return nil
}

func (b *HTTPBridge) FindPatientByIdentity(ctx context.Context, nationalID string) (*PatientRecord, error) {
	var out bridgePatientResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParam("national_id", nationalID).
		SetResult(&out).
		Get("/api/v1/patients/search")
	if err != nil {
		return nil, b.wrap("find patient", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, b.status("find patient", resp)
	}

	return &PatientRecord{
		MedicalRecordNumber: out.Data.MedicalRecordNumber,
		FullName:            out.Data.FullName,
	}, nil
}

func (b *HTTPBridge) CreatePatient(ctx context.Context, p NewPatient) (*PatientRecord, error) {
	req := bridgeCreatePatientRequest{
		NationalID: p.NationalID,
		FullName:   p.FullName,
		Gender:     p.Gender,
		Address:    p.Address,
		Phone:      p.Phone,
	}
	if p.DateOfBirth != nil {
		dob := p.DateOfBirth.Format("2006-01-02")
		req.DateOfBirth = &dob
	}

	var out bridgePatientResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/v1/patients")
	if err != nil {
		return nil, b.wrap("create patient", err)
	}
	if resp.IsError() {
		return nil, b.status("create patient", resp)
	}

	return &PatientRecord{
		MedicalRecordNumber: out.Data.MedicalRecordNumber,
		FullName:            out.Data.FullName,
	}, nil
}

func (b *HTTPBridge) RegisterVisit(ctx context.Context, mrn, doctorCode string, date time.Time) (string, error) {
	req := bridgeRegisterVisitRequest{
		MedicalRecordNumber: mrn,
		DoctorCode:          doctorCode,
		VisitDate:           date.Format("2006-01-02"),
	}

	var out bridgeVisitResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/v1/registrations")
	if err != nil {
		return "", b.wrap("register visit", err)
	}
	if resp.IsError() {
		return "", b.status("register visit", resp)
	}

	return out.Data.VisitNumber, nil
}

func (b *HTTPBridge) wrap(op string, err error) *SyncError {
	if errors.Is(err, context.DeadlineExceeded) {
		return syncError(KindTimeout, op+" timed out", err)
	}
	return syncError(KindConnectivity, op+" failed", err)
}

func (b *HTTPBridge) status(op string, resp *resty.Response) *SyncError {
	detail := fmt.Sprintf("%s returned %d: %s", op, resp.StatusCode(), resp.String())
	switch {
	case resp.StatusCode() == http.StatusConflict:
		return syncError(KindConflict, detail, nil)
	case resp.StatusCode() >= 400 && resp.StatusCode() < 500:
		return syncError(KindValidation, detail, nil)
	default:
		return syncError(KindConnectivity, detail, nil)
	}
}
