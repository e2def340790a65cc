// Package reconcile moves a found report out of the available pool and into
// a claim exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lostfound/internal/items"
	"lostfound/internal/logging"
	"lostfound/internal/services"
	"lostfound/internal/store"
)

// ErrFoundItemUnavailable is returned when the found report does not exist
// or was already reconciled into a claim.
var ErrFoundItemUnavailable = fmt.Errorf("%w: found item unavailable", services.ErrConflict)

// FoundItemSnapshot is the immutable copy of a found report kept on the
// claim it was linked to.
type FoundItemSnapshot struct {
	ReportID    int64              `json:"reportId"`
	Category    items.Category     `json:"category"`
	Description string             `json:"description"`
	ReportedBy  items.ReporterType `json:"reportedBy"`
	ReporterID  string             `json:"reporterId"`
	ClaimedAt   time.Time          `json:"claimedAt"`
}

// Consumer deletes a found report inside a transaction that commits only if
// finalize succeeds.
type Consumer interface {
	ConsumeFound(ctx context.Context, id int64, finalize func(store.Report) error) (store.Report, error)
}

// Service serializes reconciliation attempts per report id on top of the
// store transaction.
type Service struct {
	reports Consumer
	locks   *keyedMutex
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a reconciliation service over reports.
func NewService(reports Consumer, logger *slog.Logger) *Service {
	return &Service{
		reports: reports,
		locks:   newKeyedMutex(),
		logger:  logging.NewComponentLogger(logger, "reconcile"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AttachFoundItem consumes the found report reportID. finalize receives the
// snapshot while the delete is still uncommitted; returning an error from
// finalize rolls the delete back and leaves the report available.
func (s *Service) AttachFoundItem(ctx context.Context, reportID int64, finalize func(FoundItemSnapshot) error) (FoundItemSnapshot, error) {
	if reportID <= 0 {
		return FoundItemSnapshot{}, fmt.Errorf("%w: report %d", ErrFoundItemUnavailable, reportID)
	}
	unlock := s.locks.Lock(reportID)
	defer unlock()

	logger := logging.WithContext(ctx, s.logger).With(logging.Int64(logging.FieldReportID, reportID))

	var snapshot FoundItemSnapshot
	_, err := s.reports.ConsumeFound(ctx, reportID, func(report store.Report) error {
		snapshot = FoundItemSnapshot{
			ReportID:    report.ID,
			Category:    report.Category,
			Description: report.Description,
			ReportedBy:  report.ReportedBy,
			ReporterID:  report.OwnerID,
			ClaimedAt:   s.now(),
		}
		if finalize == nil {
			return nil
		}
		return finalize(snapshot)
	})
	if err != nil {
		if errors.Is(err, store.ErrReportNotFound) {
			logger.Info("found item unavailable",
				logging.String(logging.FieldEventType, "reconcile_unavailable"),
			)
			return FoundItemSnapshot{}, fmt.Errorf("%w: report %d", ErrFoundItemUnavailable, reportID)
		}
		logging.WarnWithContext(logger, "reconciliation rolled back", "reconcile_rolled_back",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "retry the upload once storage recovers"),
			logging.String(logging.FieldImpact, "found item remains available"),
		)
		return FoundItemSnapshot{}, err
	}

	logger.Info("found item reconciled",
		logging.String(logging.FieldEventType, "reconcile_linked"),
		logging.String(logging.FieldCategory, string(snapshot.Category)),
	)
	return snapshot, nil
}
