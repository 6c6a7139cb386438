package ocpp16

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateTimeMarshalJSON(t *testing.T) {
	dt := DateTime{Time: time.Date(2026, 3, 15, 9, 30, 45, 123_000_000, time.UTC)}
	data, err := json.Marshal(dt)
	require.NoError(t, err)
	// 线缆格式固定为UTC毫秒精度
	assert.Equal(t, `"2026-03-15T09:30:45.123Z"`, string(data))
}

func TestDateTimeMarshalConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	dt := DateTime{Time: time.Date(2026, 3, 15, 17, 30, 45, 0, loc)}
	data, err := json.Marshal(dt)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-15T09:30:45.000Z"`, string(data))
}

func TestDateTimeUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "毫秒精度UTC", input: `"2026-03-15T09:30:45.123Z"`},
		{name: "秒精度UTC", input: `"2026-03-15T09:30:45Z"`},
		{name: "带时区偏移", input: `"2026-03-15T17:30:45+08:00"`},
		{name: "非法格式", input: `"15/03/2026"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dt DateTime
			err := json.Unmarshal([]byte(tt.input), &dt)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2026, dt.Year())
		})
	}
}

func TestStatusNotificationOmitsEmptyOptionals(t *testing.T) {
	req := StatusNotificationRequest{
		ConnectorId: 1,
		ErrorCode:   ChargePointErrorCodeNoError,
		Status:      ChargePointStatusAvailable,
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "info")
	assert.NotContains(t, raw, "timestamp")
	assert.NotContains(t, raw, "vendorId")
}

func TestStartTransactionRequestRoundTrip(t *testing.T) {
	ts := DateTime{Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	req := StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG1",
		MeterStart:  1200,
		Timestamp:   ts,
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded StartTransactionRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req.ConnectorId, decoded.ConnectorId)
	assert.Equal(t, req.IdTag, decoded.IdTag)
	assert.Equal(t, req.MeterStart, decoded.MeterStart)
	assert.True(t, req.Timestamp.Equal(decoded.Timestamp.Time))
}
