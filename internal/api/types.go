package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"lostfound/internal/actuator"
	"lostfound/internal/camera"
	"lostfound/internal/claims"
	"lostfound/internal/items"
	"lostfound/internal/preflight"
	"lostfound/internal/services"
	"lostfound/internal/store"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	ReportID int64  `json:"reportId,omitempty"`
}

// ReportRequest is the body of POST /reports.
type ReportRequest struct {
	IdentityID   string `json:"identityId"`
	ReportKind   string `json:"reportKind"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	ReporterType string `json:"reporterType,omitempty"`
}

// NewReport validates the request enums.
func (r ReportRequest) NewReport() (store.NewReport, error) {
	kind, err := items.ParseKind(r.ReportKind)
	if err != nil {
		return store.NewReport{}, err
	}
	category, err := items.ParseCategory(r.Category)
	if err != nil {
		return store.NewReport{}, err
	}
	var reporter items.ReporterType
	if strings.TrimSpace(r.ReporterType) != "" {
		if reporter, err = items.ParseReporterType(r.ReporterType); err != nil {
			return store.NewReport{}, err
		}
	}
	return store.NewReport{
		OwnerID:     strings.TrimSpace(r.IdentityID),
		Kind:        kind,
		Category:    category,
		Description: r.Description,
		ReportedBy:  reporter,
	}, nil
}

// ReportResponse is returned by POST /reports.
type ReportResponse struct {
	ID      int64             `json:"id"`
	Report  store.Report      `json:"report"`
	Release *actuator.Release `json:"release,omitempty"`
}

// DeleteResponse reports how many rows a bulk delete removed.
type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// IdentityRequest is the body of POST /identities.
type IdentityRequest struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// Parse validates the identity type.
func (r IdentityRequest) Parse() (string, string, items.ReporterType, error) {
	kind, err := items.ParseReporterType(r.Type)
	if err != nil {
		return "", "", "", err
	}
	return strings.TrimSpace(r.Number), strings.TrimSpace(r.Name), kind, nil
}

// CameraSource is the body of GET/PUT /camera/source.
type CameraSource struct {
	URL string `json:"url"`
}

// ActuatorCommandResponse acknowledges a manual relay command.
type ActuatorCommandResponse struct {
	Category string `json:"category"`
	Channel  int    `json:"channel"`
	Value    string `json:"value"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    time.Time          `json:"startedAt"`
	DatabasePath string             `json:"databasePath"`
	LedgerPath   string             `json:"ledgerPath"`
	LockFilePath string             `json:"lockFilePath"`
	Reports      map[string]int     `json:"reports"`
	Ledger       claims.Stats       `json:"ledger"`
	Camera       camera.Stats       `json:"camera"`
	Channels     []actuator.Channel `json:"channels"`
	Releases     []actuator.Release `json:"releases"`
	Preflight    []preflight.Result `json:"preflight,omitempty"`
}

// ParseFoundItemID converts the optional foundItemId form field. Empty means
// no link requested.
func ParseFoundItemID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: foundItemId must be a positive integer, got %q", services.ErrValidation, raw)
	}
	return id, nil
}
