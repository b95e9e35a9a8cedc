package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	istanbul := time.FixedZone("TRT", 3*3600)

	tests := []struct {
		name string
		raw  string
		loc  *time.Location
		want time.Time
		ok   bool
	}{
		{name: "epoch millis", raw: `1700000000000`, want: time.UnixMilli(1700000000000), ok: true},
		{name: "epoch millis string", raw: `"1700000000000"`, want: time.UnixMilli(1700000000000), ok: true},
		{name: "rfc3339", raw: `"2025-03-03T10:00:00Z"`, want: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), ok: true},
		{name: "iso without zone", raw: `"2025-03-03T10:00:00.123"`, want: time.Date(2025, 3, 3, 10, 0, 0, 123000000, time.UTC), ok: true},
		{name: "api layout in location", raw: `"2025-03-03 10:00:00"`, loc: istanbul, want: time.Date(2025, 3, 3, 10, 0, 0, 0, istanbul), ok: true},
		{name: "jackson array", raw: `[2025,3,3,10,30]`, loc: istanbul, want: time.Date(2025, 3, 3, 10, 30, 0, 0, istanbul), ok: true},
		{name: "null", raw: `null`},
		{name: "garbage", raw: `"yesterday"`},
		{name: "empty", raw: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimeIn(json.RawMessage(tt.raw), tt.loc)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.True(t, tt.want.Equal(got), "want %v got %v", tt.want, got)
			}
		})
	}
}

func TestTimestamp_JSON(t *testing.T) {
	var v struct {
		At Timestamp `json:"at"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":"not a time"}`), &v))
	assert.True(t, v.At.IsZero())

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":null}`, string(data))

	require.NoError(t, json.Unmarshal([]byte(`{"at":1700000000000}`), &v))
	data, err = json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"`+time.UnixMilli(1700000000000).Format(time.RFC3339)+`"}`, string(data))
}

func TestStockInfo_ToQuote(t *testing.T) {
	info := StockInfo{Symbol: "GARAN", CurrentPrice: 110, Change: 10}
	q := info.ToQuote()
	assert.Equal(t, "GARAN", q.Symbol)
	assert.InDelta(t, 10.0, q.ChangePercent, 1e-9)

	zero := StockInfo{Symbol: "X", CurrentPrice: 5, Change: 5}
	assert.Equal(t, 0.0, zero.ToQuote().ChangePercent)
}
