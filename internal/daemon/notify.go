package daemon

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"lostfound/internal/actuator"
	"lostfound/internal/claims"
	"lostfound/internal/logging"
	"lostfound/internal/notifications"
	"lostfound/internal/store"
)

const notifyTimeout = 15 * time.Second

// notify publishes in the background so a slow ntfy server never delays an
// API response. Stop waits for in-flight publishes.
func (d *Daemon) notify(event notifications.Event, payload notifications.Payload) {
	if d.notifier == nil {
		return
	}
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := d.notifier.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "operator was not alerted"),
			)
		}
	}()
}

func (d *Daemon) notifyFound(report store.Report, release actuator.Release) {
	d.notify(notifications.EventFoundReported, notifications.Payload{
		"reportId":    strconv.FormatInt(report.ID, 10),
		"category":    string(report.Category),
		"channel":     strconv.Itoa(release.Channel),
		"description": report.Description,
	})
}

func (d *Daemon) notifyReleaseFailed(report store.Report, err error) {
	d.notify(notifications.EventReleaseFailed, notifications.Payload{
		"reportId": strconv.FormatInt(report.ID, 10),
		"category": string(report.Category),
		"error":    err.Error(),
	})
}

func (d *Daemon) notifyClaimLinked(identityID string, result claims.Result) {
	linked := result.Claim.LinkedFoundItem
	if linked == nil {
		return
	}
	d.notify(notifications.EventClaimLinked, notifications.Payload{
		"identityId": identityID,
		"reportId":   strconv.FormatInt(linked.ReportID, 10),
		"category":   string(linked.Category),
	})
}

// RelockFailureNotifier adapts a notification service to the actuator's
// relock failure hook.
func RelockFailureNotifier(svc notifications.Service, logger *slog.Logger) func(actuator.Release) {
	return func(rel actuator.Release) {
		if svc == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		err := svc.Publish(ctx, notifications.EventRelockFailed, notifications.Payload{
			"category": rel.Category,
			"channel":  strconv.Itoa(rel.Channel),
			"error":    rel.Error,
		})
		if err != nil && logger != nil {
			logger.Warn("relock notification failed", logging.Error(err))
		}
	}
}
