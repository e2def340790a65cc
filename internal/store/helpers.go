package store

import (
	"database/sql"
	"errors"
	"time"

	"lostfound/internal/items"
)

const (
	reportColumns   = "id, owner_id, kind, category, description, reported_by, created_at"
	identityColumns = "id, number, name, type, created_at"
)

type rowScanner interface{ Scan(dest ...any) error }

func scanReport(scanner rowScanner) (Report, error) {
	var (
		report      Report
		kind        string
		category    string
		description sql.NullString
		reportedBy  string
		createdRaw  sql.NullString
	)
	if err := scanner.Scan(&report.ID, &report.OwnerID, &kind, &category, &description, &reportedBy, &createdRaw); err != nil {
		return Report{}, err
	}
	report.Kind = items.Kind(kind)
	report.Category = items.Category(category)
	report.Description = description.String
	report.ReportedBy = items.ReporterType(reportedBy)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		report.CreatedAt = created
	}
	return report, nil
}

func scanIdentity(scanner rowScanner) (Identity, error) {
	var (
		identity   Identity
		kind       string
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&identity.ID, &identity.Number, &identity.Name, &kind, &createdRaw); err != nil {
		return Identity{}, err
	}
	identity.Type = items.ReporterType(kind)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		identity.CreatedAt = created
	}
	return identity, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
