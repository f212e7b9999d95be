package telemetry

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/SentryBox/internal/models"
	"github.com/pkg/errors"
)

var ErrMissingVIN = errors.New("telemetry record has no vin")

// Синонимы полей, накопившиеся за разные версии формата. Ключи сравниваются
// после normKey (нижний регистр, без '_' и '-').
var (
	vinKeys         = []string{"vin"}
	timestampKeys   = []string{"timestamp", "createdat", "ts", "time"}
	sentryKeys      = []string{"sentrymode", "sentrymodestate", "sentry"}
	alarmKeys       = []string{"alarmstate", "alarm", "alarmactive"}
	displayNameKeys = []string{"displayname", "vehiclename", "name"}
	locationKeys    = []string{"location"}
	latitudeKeys    = []string{"latitude", "lat"}
	longitudeKeys   = []string{"longitude", "lon", "lng"}
	batteryKeys     = []string{"batterylevel", "soc"}
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

// Верхняя граница: 9999-12-31T23:59:59Z, дальше время не сериализуется в RFC 3339.
const (
	maxEpochSeconds = 253402300799
	maxEpochMillis  = maxEpochSeconds*1000 + 999
)

// Decode parses a JSON object body into a generic map.
func Decode(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "decode telemetry json")
	}
	if raw == nil {
		return nil, errors.New("telemetry payload is not a json object")
	}
	return raw, nil
}

// Normalize builds a canonical record from a decoded payload. Both flat
// webhook bodies and fleet-telemetry envelopes ({"vin":..,"data":[{key,value}]})
// are accepted. receivedAt is used when the payload carries no usable timestamp.
func Normalize(raw map[string]any, receivedAt time.Time) (models.TelemetryRecord, error) {
	fields := index(raw)

	vin := strings.TrimSpace(asString(lookup(fields, vinKeys)))
	if vin == "" {
		return models.TelemetryRecord{}, ErrMissingVIN
	}

	rec := models.TelemetryRecord{
		VIN:        vin,
		Timestamp:  parseTimestamp(lookup(fields, timestampKeys), receivedAt),
		SentryMode: parseSentryMode(lookup(fields, sentryKeys)),
		Alarm:      parseAlarm(lookup(fields, alarmKeys)),
		Raw:        raw,
	}

	if s := strings.TrimSpace(asString(lookup(fields, displayNameKeys))); s != "" {
		rec.DisplayName = &s
	}
	if loc := parseLocation(fields); loc != "" {
		rec.Location = &loc
	}
	if f, ok := asFloat(lookup(fields, batteryKeys)); ok {
		rec.BatteryLevel = &f
	}
	return rec, nil
}

func normKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

// index flattens top-level fields and fleet-telemetry data entries into one
// map keyed by normKey. Top-level fields win over data entries.
func index(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	if data, ok := raw["data"].([]any); ok {
		for _, item := range data {
			d, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key, _ := d["key"].(string)
			if key == "" {
				continue
			}
			out[normKey(key)] = datumValue(d["value"])
		}
	}
	for k, v := range raw {
		if k == "data" {
			continue
		}
		out[normKey(k)] = v
	}
	return out
}

// datumValue unwraps {"stringValue": ...}, {"locationValue": {...}} etc.
func datumValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, inner := range m {
		if strings.HasSuffix(k, "Value") {
			return inner
		}
	}
	return v
}

func lookup(fields map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(v any, fallback time.Time) time.Time {
	if v == nil {
		return fallback.UTC()
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	f, ok := asFloat(v)
	if !ok || f <= 0 {
		return fallback.UTC()
	}
	if f >= epochMillisThreshold {
		if f > maxEpochMillis {
			return fallback.UTC()
		}
		return time.UnixMilli(int64(f)).UTC()
	}
	if f > maxEpochSeconds {
		return fallback.UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}

func parseSentryMode(v any) models.SentryModeState {
	switch t := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		s = strings.TrimPrefix(s, "sentrymodestate")
		switch s {
		case "aware":
			return models.SentryModeAware
		case "off":
			return models.SentryModeOff
		}
	case bool:
		if !t {
			return models.SentryModeOff
		}
	}
	return models.SentryModeUnknown
}

// parseAlarm: textual values are compared case-insensitively with "active",
// anything else is interpreted by truthiness.
func parseAlarm(v any) models.AlarmState {
	if v == nil {
		return models.AlarmUnknown
	}
	if s, ok := v.(string); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.TrimPrefix(s, "alarmstate")
		if s == "active" {
			return models.AlarmActive
		}
		return models.AlarmInactive
	}
	if truthy(v) {
		return models.AlarmActive
	}
	return models.AlarmInactive
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	if f, ok := asFloat(v); ok {
		return f != 0
	}
	return false
}

func parseLocation(fields map[string]any) string {
	lat, okLat := asFloat(lookup(fields, latitudeKeys))
	lon, okLon := asFloat(lookup(fields, longitudeKeys))
	if okLat && okLon {
		return formatLatLon(lat, lon)
	}

	switch t := lookup(fields, locationKeys).(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		lat, okLat := asFloat(lookup(index(t), latitudeKeys))
		lon, okLon := asFloat(lookup(index(t), longitudeKeys))
		if okLat && okLon {
			return formatLatLon(lat, lon)
		}
	}
	return ""
}

func formatLatLon(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}
