package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	same := []string{
		"11:22:33:AA:BB:CC",
		"11-22-33-aa-bb-cc",
		"112233aabbcc",
		" 11.22.33.Aa.Bb.Cc ",
		"11_22_33_AA_BB_CC",
	}
	for _, raw := range same {
		assert.Equal(t, "112233aabbcc", Canonicalize(raw), raw)
	}

	for _, raw := range append(same, "", "::--", "ZZ:not a mac", "\t") {
		once := Canonicalize(raw)
		assert.Equal(t, once, Canonicalize(once), "not idempotent for %q", raw)
	}

	assert.Equal(t, "", Canonicalize(":-:-"))
}

func TestGatewayFromTopic(t *testing.T) {
	assert.Equal(t, "AA11BB22CC33", GatewayFromTopic("GwData/AA11BB22CC33"))
	assert.Equal(t, "gw1", GatewayFromTopic("GwData/gw1/extra"))
	assert.Equal(t, UnknownGateway, GatewayFromTopic("GwData"))
	assert.Equal(t, UnknownGateway, GatewayFromTopic("GwData/"))
	assert.Equal(t, UnknownGateway, GatewayFromTopic(""))
}

func TestReadingPayload(t *testing.T) {
	temp := 21.4
	r := Reading{
		DeviceID:    "11:22:33:44:55:66",
		GatewayID:   "AA11BB22CC33",
		Temperature: &temp,
		Extra:       map[string]any{"rssi": -70.0, "mac_address": "spoofed"},
	}

	p := r.Payload()
	assert.Equal(t, "11:22:33:44:55:66", p["mac_address"])
	assert.Equal(t, 21.4, p["temperature"])
	assert.Equal(t, 0, p["battery"])
	assert.Equal(t, "AA11BB22CC33", p["gateway_mac"])
	assert.Equal(t, -70.0, p["rssi"])
	assert.NotContains(t, p, "ts")
	assert.Equal(t, "112233445566", r.Key())
	assert.True(t, r.Forwardable())
	assert.False(t, Reading{DeviceID: "x"}.Forwardable())
}

func TestClassifySimplified(t *testing.T) {
	env, err := Classify([]byte(`{"beacon_mac":"11:22:33:44:55:66","temperature_c":21.4}`))
	require.NoError(t, err)
	require.Equal(t, KindSimplified, env.Kind)
	require.NotNil(t, env.Simplified)
	assert.Equal(t, "11:22:33:44:55:66", env.Simplified.BeaconMAC)
	require.NotNil(t, env.Simplified.Temperature)
	assert.Equal(t, 21.4, *env.Simplified.Temperature)
	assert.Equal(t, 0, env.Simplified.Battery)
	assert.Nil(t, env.Simplified.Timestamp)
}

func TestClassifySimplifiedAliases(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		temp    *float64
		battery int
	}{
		{"priority order", `{"beacon_mac":"a","temp":1,"temperature":2,"temperature_c":3}`, ptr(3), 0},
		{"second alias", `{"beacon_mac":"a","temp":1,"temperature":2}`, ptr(2), 0},
		{"null skipped", `{"beacon_mac":"a","temperature_c":null,"temp":5}`, ptr(5), 0},
		{"first present not numeric", `{"beacon_mac":"a","temperature_c":"hot","temp":5}`, nil, 0},
		{"no temperature", `{"beacon_mac":"a","battery":2900}`, nil, 2900},
		{"battery_mv wins", `{"beacon_mac":"a","temp":1,"battery_mv":3100,"battery":2900}`, ptr(1), 3100},
		{"bad battery falls through", `{"beacon_mac":"a","temp":1,"battery_mv":"x","battery":2900}`, ptr(1), 2900},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Classify([]byte(tt.body))
			require.NoError(t, err)
			require.Equal(t, KindSimplified, env.Kind)
			assert.Equal(t, tt.temp, env.Simplified.Temperature)
			assert.Equal(t, tt.battery, env.Simplified.Battery)
		})
	}
}

func TestClassifySimplifiedPassthrough(t *testing.T) {
	env, err := Classify([]byte(`{"beacon_mac":"a","temp":1,"ts":1700000000,"rssi":-60,"humidity":40.5,"name":"fridge","other":true}`))
	require.NoError(t, err)

	s := env.Simplified
	assert.Equal(t, 1700000000.0, s.Timestamp)
	assert.Equal(t, map[string]any{"rssi": -60.0, "humidity": 40.5, "name": "fridge"}, s.Extra)
}

func TestClassifyScanReport(t *testing.T) {
	body := `{"msg":"advData","gmac":"AA11","data":{"devices":[
		{"mac":"11:22:33:44:55:66","adv":"0000000000001A05","rsp":"000000000000000BB8","rssi":-70,"ts":"2024-01-01T00:00:00Z"},
		{"adv":"0000000000001A05"},
		"not an object"
	]}}`

	env, err := Classify([]byte(body))
	require.NoError(t, err)
	require.Equal(t, KindScanReport, env.Kind)
	require.Len(t, env.Scan.Entries, 3)

	first := env.Scan.Entries[0]
	assert.True(t, first.Valid)
	assert.Equal(t, "11:22:33:44:55:66", first.MAC)
	assert.Equal(t, "0000000000001A05", first.Adv)
	assert.Equal(t, -70.0, first.RSSI)
	assert.Equal(t, "2024-01-01T00:00:00Z", first.TS)

	assert.True(t, env.Scan.Entries[1].Valid)
	assert.Empty(t, env.Scan.Entries[1].MAC)
	assert.False(t, env.Scan.Entries[2].Valid)
}

func TestClassifyIgnored(t *testing.T) {
	bodies := []string{
		`{"msg":"heartbeat"}`,
		`{"msg":"advData"}`,
		`{"msg":"advData","data":{"devices":"nope"}}`,
		`{"msg":"advData","data":[]}`,
		`[1,2,3]`,
		`"just a string"`,
		`{}`,
	}
	for _, b := range bodies {
		env, err := Classify([]byte(b))
		require.NoError(t, err, b)
		assert.Equal(t, KindIgnored, env.Kind, b)
	}
}

func TestClassifyInvalidJSON(t *testing.T) {
	_, err := Classify([]byte(`{"beacon_mac":`))
	assert.ErrorIs(t, err, ErrInvalidJSON)

	_, err = Classify(nil)
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func ptr(v float64) *float64 { return &v }
