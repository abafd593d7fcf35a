package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemperature(t *testing.T) {
	tests := []struct {
		name string
		adv  string
		want *float64
	}{
		{name: "worked example", adv: "0000000000001A05", want: f(26.05)},
		{name: "lower case hex", adv: "0000000000001a05", want: f(26.05)},
		{name: "fraction above 9", adv: "0000000000001463", want: f(20.99)},
		{name: "trailing bytes ignored", adv: "0000000000001505FFFF", want: f(21.05)},
		{name: "shorter than 14", adv: "0000000000", want: nil},
		{name: "exactly 14", adv: "0000000000001A", want: nil},
		{name: "pair at 10..14 is not read", adv: "00000000001A05", want: nil},
		{name: "15 chars", adv: "0000000000001A0", want: nil},
		{name: "empty", adv: "", want: nil},
		{name: "non hex integer part", adv: "000000000000ZZ05", want: nil},
		{name: "non hex fraction", adv: "0000000000001AXY", want: nil},
		{name: "sign is not hex", adv: "000000000000-105", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Temperature(tt.adv)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestBattery(t *testing.T) {
	tests := []struct {
		name string
		rsp  string
		want *int
	}{
		{name: "3000 mV", rsp: "00000000000000" + "0BB8", want: i(3000)},
		{name: "upper and lower case", rsp: "00000000000000" + "0bB8" + "AA", want: i(3000)},
		{name: "too short", rsp: "00000000000000" + "0BB", want: nil},
		{name: "non hex", rsp: "00000000000000" + "0BZ8", want: nil},
		{name: "empty", rsp: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Battery(tt.rsp))
		})
	}
}

func TestDecodeIndependentFields(t *testing.T) {
	r := Decode("0000000000001A05", "")
	require.NotNil(t, r.Temperature)
	assert.Nil(t, r.Battery)

	r = Decode("garbage", "000000000000000BB8")
	assert.Nil(t, r.Temperature)
	require.NotNil(t, r.Battery)
	assert.Equal(t, 3000, *r.Battery)

	assert.NotPanics(t, func() { Decode("\x00\xff", "ééééééééé") })
}

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }
