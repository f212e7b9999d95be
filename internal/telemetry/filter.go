package telemetry

import "github.com/BearBump/SentryBox/internal/models"

// Decide reports whether a record is worth alerting on. It never fails:
// unknown or missing states are simply not alert-worthy.
func Decide(rec models.TelemetryRecord) models.AlertDecision {
	switch {
	case rec.SentryMode == models.SentryModeAware:
		return models.AlertDecision{ShouldAlert: true, Reason: models.AlertReasonSentryAware}
	case rec.Alarm == models.AlarmActive:
		return models.AlertDecision{ShouldAlert: true, Reason: models.AlertReasonAlarmActive}
	default:
		return models.AlertDecision{ShouldAlert: false, Reason: models.AlertReasonNone}
	}
}

// StreamSentryAware is the cheaper presence check used by the streaming
// adapter: a "SentryMode" datum whose stringValue is exactly "Aware".
func StreamSentryAware(raw map[string]any) bool {
	data, ok := raw["data"].([]any)
	if !ok {
		return false
	}
	for _, item := range data {
		d, ok := item.(map[string]any)
		if !ok || d["key"] != "SentryMode" {
			continue
		}
		v, ok := d["value"].(map[string]any)
		if !ok {
			continue
		}
		if s, _ := v["stringValue"].(string); s == "Aware" {
			return true
		}
	}
	return false
}
