package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValidEvent(t *testing.T) {
	raw := []byte(`{
		"path": "/article/42",
		"timestamp": 1704152000000,
		"visitorId": "v-1",
		"ipAddress": "203.0.113.9",
		"userAgent": "Mozilla/5.0",
		"referrer": "https://example.com",
		"country": "DE",
		"region": "BE",
		"city": "Berlin",
		"device": "desktop",
		"browser": "Firefox",
		"os": "Linux",
		"screenSize": "1920x1080",
		"language": "de-DE",
		"timezone": "Europe/Berlin"
	}`)

	pv, err := Normalize(raw, 7)
	require.NoError(t, err)

	assert.Equal(t, "/article/42", pv.Path)
	assert.Equal(t, "v-1", pv.VisitorID)
	assert.Equal(t, "203.0.113.9", pv.IPAddress)
	assert.Equal(t, time.UnixMilli(1704152000000).UTC(), pv.CreatedAt)
	assert.Equal(t, "Europe/Berlin", pv.VisitorTZ)
	assert.Equal(t, int64(0), pv.Duration)
	assert.Equal(t, 7, pv.QueueSeq)
}

func TestNormalizeRFC3339Timestamp(t *testing.T) {
	raw := []byte(`{"path":"/","timestamp":"2024-01-01T23:30:00Z","visitorId":"v","ipAddress":"10.0.0.1"}`)
	pv, err := Normalize(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC), pv.CreatedAt)
}

func TestNormalizeOptionalDimensionsDefaultEmpty(t *testing.T) {
	raw := []byte(`{"path":"/","timestamp":1704152000000,"visitorId":"v","ipAddress":"10.0.0.1"}`)
	pv, err := Normalize(raw, 0)
	require.NoError(t, err)
	assert.Empty(t, pv.Referrer)
	assert.Empty(t, pv.Country)
	assert.Empty(t, pv.Browser)
	assert.Empty(t, pv.VisitorTZ)
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"missing required fields": `{"path": "/x"}`,
		"missing path":            `{"timestamp":1704152000000,"visitorId":"v","ipAddress":"10.0.0.1"}`,
		"missing visitorId":       `{"path":"/","timestamp":1704152000000,"ipAddress":"10.0.0.1"}`,
		"missing ipAddress":       `{"path":"/","timestamp":1704152000000,"visitorId":"v"}`,
		"missing timestamp":       `{"path":"/","visitorId":"v","ipAddress":"10.0.0.1"}`,
		"unparsable timestamp":    `{"path":"/","timestamp":"yesterday","visitorId":"v","ipAddress":"10.0.0.1"}`,
		"timestamp wrong type":    `{"path":"/","timestamp":true,"visitorId":"v","ipAddress":"10.0.0.1"}`,
		"not JSON":                `{"path":`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			pv, err := Normalize([]byte(raw), 0)
			assert.Error(t, err)
			assert.Nil(t, pv)
		})
	}
}
