// Package decode extracts temperature and battery values from the hex
// encodings carried in BLE scan reports.
package decode

import (
	"fmt"
	"strconv"
)

// Offsets into the advertisement and scan response hex strings. The
// temperature pair sits at 12..16, matching the 0000000000001A05 -> 26.05
// sample rather than the older 10..14 layout.
const (
	tempIntStart  = 12
	tempFracStart = 14
	tempEnd       = 16

	batteryStart = 14
	batteryEnd   = 18
)

// Result holds whatever could be extracted. Nil fields mean "not available".
type Result struct {
	Temperature *float64
	Battery     *int
}

// Decode never fails: unreadable input simply yields empty fields.
func Decode(adv, rsp string) Result {
	return Result{
		Temperature: Temperature(adv),
		Battery:     Battery(rsp),
	}
}

// Temperature reads the integer part from one byte-pair and the hundredths
// from the following pair, e.g. "...1A05" -> 26.05.
func Temperature(adv string) *float64 {
	if len(adv) < tempEnd {
		return nil
	}

	whole, err := strconv.ParseUint(adv[tempIntStart:tempFracStart], 16, 8)
	if err != nil {
		return nil
	}
	frac, err := strconv.ParseUint(adv[tempFracStart:tempEnd], 16, 8)
	if err != nil {
		return nil
	}

	v, err := strconv.ParseFloat(fmt.Sprintf("%d.%02d", whole, frac), 64)
	if err != nil {
		return nil
	}
	return &v
}

// Battery returns the millivolt reading stored at rsp[14:18].
func Battery(rsp string) *int {
	if len(rsp) < batteryEnd {
		return nil
	}
	mv, err := strconv.ParseUint(rsp[batteryStart:batteryEnd], 16, 16)
	if err != nil {
		return nil
	}
	n := int(mv)
	return &n
}
