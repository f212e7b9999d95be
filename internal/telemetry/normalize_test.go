package telemetry

import (
	"testing"
	"time"

	"github.com/BearBump/SentryBox/internal/models"
	"github.com/stretchr/testify/require"
)

var receivedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func mustDecode(t *testing.T, body string) map[string]any {
	t.Helper()
	raw, err := Decode([]byte(body))
	require.NoError(t, err)
	return raw
}

func TestNormalize_FlatWebhookBody(t *testing.T) {
	raw := mustDecode(t, `{
  "VIN": "5YJ3E1EA7KF000001",
  "sentry_mode": "AWARE",
  "alarm_state": "inactive",
  "display_name": "Red Car",
  "latitude": 48.8566,
  "longitude": 2.3522,
  "Soc": 81,
  "timestamp": 1740830400
}`)

	rec, err := Normalize(raw, receivedAt)
	require.NoError(t, err)
	require.Equal(t, "5YJ3E1EA7KF000001", rec.VIN)
	require.Equal(t, models.SentryModeAware, rec.SentryMode)
	require.Equal(t, models.AlarmInactive, rec.Alarm)
	require.NotNil(t, rec.DisplayName)
	require.Equal(t, "Red Car", *rec.DisplayName)
	require.NotNil(t, rec.Location)
	require.Equal(t, "48.8566,2.3522", *rec.Location)
	require.NotNil(t, rec.BatteryLevel)
	require.Equal(t, 81.0, *rec.BatteryLevel)
	require.Equal(t, time.Unix(1740830400, 0).UTC(), rec.Timestamp)
}

func TestNormalize_FleetTelemetryEnvelope(t *testing.T) {
	raw := mustDecode(t, `{
  "vin": "TEST123456",
  "createdAt": "2025-03-01T10:00:00Z",
  "data": [
    {"key": "SentryMode", "value": {"stringValue": "Aware"}},
    {"key": "BatteryLevel", "value": {"doubleValue": 55.5}},
    {"key": "Location", "value": {"locationValue": {"latitude": 1.5, "longitude": -2.25}}}
  ]
}`)

	rec, err := Normalize(raw, receivedAt)
	require.NoError(t, err)
	require.Equal(t, "TEST123456", rec.VIN)
	require.Equal(t, models.SentryModeAware, rec.SentryMode)
	require.Equal(t, models.AlarmUnknown, rec.Alarm)
	require.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), rec.Timestamp)
	require.NotNil(t, rec.BatteryLevel)
	require.Equal(t, 55.5, *rec.BatteryLevel)
	require.NotNil(t, rec.Location)
	require.Equal(t, "1.5,-2.25", *rec.Location)
}

func TestNormalize_MissingVIN(t *testing.T) {
	_, err := Normalize(mustDecode(t, `{"sentry_mode":"Aware"}`), receivedAt)
	require.ErrorIs(t, err, ErrMissingVIN)

	_, err = Normalize(mustDecode(t, `{"vin":"   "}`), receivedAt)
	require.ErrorIs(t, err, ErrMissingVIN)
}

func TestNormalize_Timestamps(t *testing.T) {
	cases := []struct {
		name string
		body string
		want time.Time
	}{
		{"epoch seconds", `{"vin":"V","timestamp":1700000000}`, time.Unix(1700000000, 0).UTC()},
		{"epoch millis", `{"vin":"V","timestamp":1700000000123}`, time.UnixMilli(1700000000123).UTC()},
		{"numeric string", `{"vin":"V","timestamp":"1700000000"}`, time.Unix(1700000000, 0).UTC()},
		{"iso", `{"vin":"V","timestamp":"2024-11-14T22:13:20.5Z"}`, time.Date(2024, 11, 14, 22, 13, 20, 500000000, time.UTC)},
		{"missing", `{"vin":"V"}`, receivedAt},
		{"garbage", `{"vin":"V","timestamp":"yesterday"}`, receivedAt},
		{"negative", `{"vin":"V","timestamp":-5}`, receivedAt},
		{"huge float", `{"vin":"V","timestamp":1e300}`, receivedAt},
		{"millis past year 9999", `{"vin":"V","timestamp":99999999999999999}`, receivedAt},
		{"seconds past year 9999", `{"vin":"V","timestamp":300000000000}`, receivedAt},
		{"last valid second", `{"vin":"V","timestamp":253402300799}`, time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := Normalize(mustDecode(t, tc.body), receivedAt)
			require.NoError(t, err)
			require.True(t, tc.want.Equal(rec.Timestamp), "got %s", rec.Timestamp)
			_, err = rec.Timestamp.MarshalText()
			require.NoError(t, err)
		})
	}
}

func TestNormalize_AlarmRepresentations(t *testing.T) {
	cases := map[string]models.AlarmState{
		`{"vin":"V","alarm_state":"ACTIVE"}`:          models.AlarmActive,
		`{"vin":"V","AlarmState":"AlarmStateActive"}`: models.AlarmActive,
		`{"vin":"V","alarm":true}`:                    models.AlarmActive,
		`{"vin":"V","alarm":1}`:                       models.AlarmActive,
		`{"vin":"V","alarm":0}`:                       models.AlarmInactive,
		`{"vin":"V","alarm":false}`:                   models.AlarmInactive,
		`{"vin":"V","alarm_state":"armed"}`:           models.AlarmInactive,
		`{"vin":"V"}`:                                 models.AlarmUnknown,
	}
	for body, want := range cases {
		rec, err := Normalize(mustDecode(t, body), receivedAt)
		require.NoError(t, err, body)
		require.Equal(t, want, rec.Alarm, body)
	}
}

func TestDecode_RejectsNonObject(t *testing.T) {
	_, err := Decode([]byte(`[1,2]`))
	require.Error(t, err)

	_, err = Decode([]byte(`null`))
	require.Error(t, err)

	_, err = Decode([]byte(`{not json`))
	require.Error(t, err)
}
