package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lostfound/internal/items"
	"lostfound/internal/services"
)

// Report is a lost or found item record submitted by a registered identity.
type Report struct {
	ID          int64              `json:"id"`
	OwnerID     string             `json:"ownerId"`
	Kind        items.Kind         `json:"kind"`
	Category    items.Category     `json:"category"`
	Description string             `json:"description"`
	ReportedBy  items.ReporterType `json:"reportedBy"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// NewReport carries the caller-supplied fields of a report submission.
// ReportedBy may be empty, in which case the registered identity's type is used.
type NewReport struct {
	OwnerID     string
	Kind        items.Kind
	Category    items.Category
	Description string
	ReportedBy  items.ReporterType
}

// ReportFilter narrows List results. Zero values match everything.
type ReportFilter struct {
	Kind    items.Kind
	OwnerID string
}

// Reports is the typed repository for the reports table.
type Reports struct {
	store *Store
}

// Create validates the submission against the identity registry and inserts it.
func (r *Reports) Create(ctx context.Context, in NewReport) (Report, error) {
	ownerID := strings.TrimSpace(in.OwnerID)
	if ownerID == "" {
		return Report{}, fmt.Errorf("%w: identity id is required", services.ErrValidation)
	}
	if _, err := items.ParseKind(string(in.Kind)); err != nil {
		return Report{}, err
	}
	if _, err := items.ParseCategory(string(in.Category)); err != nil {
		return Report{}, err
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return Report{}, fmt.Errorf("%w: description is required", services.ErrValidation)
	}

	report := Report{
		OwnerID:     ownerID,
		Kind:        in.Kind,
		Category:    in.Category,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		var registered string
		row := tx.QueryRowContext(ctx, "SELECT type FROM identities WHERE number = ?", ownerID)
		if err := row.Scan(&registered); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", services.ErrIdentityNotRegistered, ownerID)
			}
			return err
		}
		report.ReportedBy = items.ReporterType(registered)
		if in.ReportedBy != "" && in.ReportedBy != report.ReportedBy {
			return fmt.Errorf("%w: %s is registered as %s, not %s", services.ErrValidation, ownerID, registered, in.ReportedBy)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO reports (owner_id, kind, category, description, reported_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			report.OwnerID, string(report.Kind), string(report.Category), nullableString(report.Description),
			string(report.ReportedBy), formatTime(report.CreatedAt),
		)
		if err != nil {
			return err
		}
		report.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return Report{}, classify(err, "create report")
	}
	return report, nil
}

// Get returns a single report by id.
func (r *Reports) Get(ctx context.Context, id int64) (Report, error) {
	ctx = ensureContext(ctx)
	row := r.store.db.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM reports WHERE id = ?", id)
	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrReportNotFound
	}
	if err != nil {
		return Report{}, classify(err, "get report")
	}
	return report, nil
}

// List returns reports matching the filter, newest first.
func (r *Reports) List(ctx context.Context, filter ReportFilter) ([]Report, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + reportColumns + " FROM reports"
	var (
		clauses []string
		args    []any
	)
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.OwnerID != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list reports")
	}
	defer rows.Close()

	reports := make([]Report, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, classify(err, "scan report")
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list reports")
	}
	return reports, nil
}

// Delete removes one report.
func (r *Reports) Delete(ctx context.Context, id int64) error {
	res, err := r.store.execWithRetry(ctx, "DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return classify(err, "delete report")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrReportNotFound
	}
	return nil
}

// DeleteKind removes every report of the given kind and returns how many
// rows were deleted.
func (r *Reports) DeleteKind(ctx context.Context, kind items.Kind) (int64, error) {
	if _, err := items.ParseKind(string(kind)); err != nil {
		return 0, err
	}
	res, err := r.store.execWithRetry(ctx, "DELETE FROM reports WHERE kind = ?", string(kind))
	if err != nil {
		return 0, classify(err, "delete reports")
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// ConsumeFound deletes an available FOUND report and hands the removed row to
// finalize before the transaction commits. If finalize fails the delete is
// rolled back and the report stays available. A missing or already consumed
// report returns ErrReportNotFound without calling finalize.
//
// The delete is a single write statement so concurrent consumers of different
// reports queue on the database lock instead of failing a lock upgrade.
func (r *Reports) ConsumeFound(ctx context.Context, id int64, finalize func(Report) error) (Report, error) {
	ctx = ensureContext(ctx)

	var tx *sql.Tx
	if err := retryOnBusy(ctx, func() error {
		var beginErr error
		tx, beginErr = r.store.db.BeginTx(ctx, nil)
		return beginErr
	}); err != nil {
		return Report{}, classify(err, "begin consume")
	}
	defer func() { _ = tx.Rollback() }()

	var report Report
	err := retryOnBusy(ctx, func() error {
		row := tx.QueryRowContext(ctx,
			"DELETE FROM reports WHERE id = ? AND kind = ? RETURNING "+reportColumns,
			id, string(items.KindFound),
		)
		var scanErr error
		report, scanErr = scanReport(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrReportNotFound
	}
	if err != nil {
		return Report{}, classify(err, "consume found report")
	}

	if finalize != nil {
		if err := finalize(report); err != nil {
			return Report{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Report{}, classify(err, "commit consume")
	}
	return report, nil
}

// classify tags raw database failures as storage errors while leaving
// already-classified errors untouched.
func classify(err error, operation string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrIdentityNotRegistered),
		errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrConflict):
		return err
	}
	return services.Wrap(services.ErrStorage, "store", operation, "", err)
}
