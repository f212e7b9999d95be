package models

import "time"

type SentryModeState string

// Нормализованные состояния Sentry Mode.
const (
	SentryModeOff     SentryModeState = "Off"
	SentryModeAware   SentryModeState = "Aware"
	SentryModeUnknown SentryModeState = "Unknown"
)

type AlarmState string

const (
	AlarmActive   AlarmState = "Active"
	AlarmInactive AlarmState = "Inactive"
	AlarmUnknown  AlarmState = "Unknown"
)

// TelemetryRecord is the canonical view of one inbound vehicle report.
// Built once per message by an ingest adapter and never mutated afterwards.
type TelemetryRecord struct {
	VIN          string
	Timestamp    time.Time
	SentryMode   SentryModeState
	Alarm        AlarmState
	DisplayName  *string
	Location     *string
	BatteryLevel *float64
	Raw          map[string]any
}

type AlertReason string

const (
	AlertReasonSentryAware AlertReason = "SentryAware"
	AlertReasonAlarmActive AlertReason = "AlarmActive"
	AlertReasonNone        AlertReason = "None"
)

type AlertDecision struct {
	ShouldAlert bool
	Reason      AlertReason
}
