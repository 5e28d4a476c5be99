package biz

import (
	"context"
	"fmt"

	"CloudRelay/internal/model"
)

// evaluateAlerts checks every alert condition independently and dispatches the ones that fire.
// It returns the alerts that were actually delivered.
func (t *ErrorTracker) evaluateAlerts(ctx context.Context, rec *model.ErrorRecord, hourlyTotal, consecutive int64) []*model.Alert {
	newAlert := func(alertType model.AlertType, severity model.AlertSeverity, count int64, msg string) *model.Alert {
		return &model.Alert{
			Type:        alertType,
			Severity:    severity,
			Provider:    rec.Provider,
			PrincipalID: rec.PrincipalID,
			ErrorKind:   rec.ErrorKind,
			Operation:   rec.Operation,
			Count:       count,
			Message:     msg,
			Timestamp:   rec.Timestamp,
		}
	}

	var candidates []*model.Alert
	if rec.ErrorKind.IsCritical() {
		candidates = append(candidates, newAlert(model.AlertCriticalError, model.SeverityCritical, 1,
			fmt.Sprintf("critical %s error on %s: %s", rec.ErrorKind, rec.Provider, rec.ErrorKind.Description())))
	}
	if hourlyTotal >= t.cfg.EscalationThreshold {
		candidates = append(candidates, newAlert(model.AlertEscalation, model.SeverityCritical, hourlyTotal,
			fmt.Sprintf("%d %s errors this hour, escalating", hourlyTotal, rec.Provider)))
	}
	if hourlyTotal >= t.cfg.RateThreshold {
		candidates = append(candidates, newAlert(model.AlertErrorRate, model.SeverityHigh, hourlyTotal,
			fmt.Sprintf("%d %s errors this hour", hourlyTotal, rec.Provider)))
	}
	if consecutive >= t.cfg.ConsecutiveThreshold {
		candidates = append(candidates, newAlert(model.AlertConsecutiveFailures, model.SeverityWarning, consecutive,
			fmt.Sprintf("%d consecutive %s failures on %s", consecutive, rec.Operation, rec.Provider)))
	}

	var sent []*model.Alert
	for _, alert := range candidates {
		if t.dispatch(ctx, alert) {
			sent = append(sent, alert)
		}
	}
	return sent
}

// dispatch sends alert unless one of the same type went out for the same (provider, principal)
// within the throttle window. The last-sent timestamp key doubles as the throttle.
func (t *ErrorTracker) dispatch(ctx context.Context, alert *model.Alert) bool {
	key := alertKey(alert.Provider, alert.PrincipalID, alert.Type)

	ok, err := t.store.SetIfAbsent(ctx, key, alert.Timestamp.Unix(), t.cfg.ThrottleWindow)
	if err != nil {
		t.logger.Warnw("msg", "alert throttle check failed", "alert_type", alert.Type, "error", err)
		return false
	}
	if !ok {
		t.logger.Debugw("msg", "alert throttled", "alert_type", alert.Type, "provider", alert.Provider, "principal_id", alert.PrincipalID)
		return false
	}

	if err := t.notifier.SendAlert(ctx, alert); err != nil {
		t.logger.Errorw("msg", "failed to send alert", "alert_type", alert.Type, "error", err)
		// let the next failure try again
		_ = t.store.Delete(ctx, key)
		return false
	}

	t.logger.Alert("alert sent",
		"alert_type", alert.Type,
		"severity", alert.Severity,
		"provider", alert.Provider,
		"principal_id", alert.PrincipalID,
		"count", alert.Count)
	return true
}
