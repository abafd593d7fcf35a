package model

import (
	"encoding/json"
	"errors"
)

// Field names of the two inbound envelope shapes.
const (
	FieldBeaconMAC   = "beacon_mac"
	FieldMsg         = "msg"
	ScanReportTag    = "advData"
	scanDataField    = "data"
	scanDevicesField = "devices"
)

// TemperatureAliases are checked in order; the first present value wins.
var TemperatureAliases = []string{"temperature_c", "temperature", "temp"}

// BatteryAliases are checked in order; the first numeric value wins.
var BatteryAliases = []string{"battery_mv", "battery"}

// PassthroughFields are copied verbatim from a simplified reading.
var PassthroughFields = []string{"rssi", "humidity", "name"}

var ErrInvalidJSON = errors.New("payload is not valid JSON")

type Kind int

const (
	KindIgnored Kind = iota
	KindSimplified
	KindScanReport
)

func (k Kind) String() string {
	switch k {
	case KindSimplified:
		return "simplified"
	case KindScanReport:
		return "scan_report"
	default:
		return "ignored"
	}
}

// Envelope is an inbound message resolved to one of the supported shapes.
// Exactly one of Simplified / Scan is set, according to Kind.
type Envelope struct {
	Kind       Kind
	Simplified *SimplifiedReading
	Scan       *ScanReport
}

// SimplifiedReading is a gateway-side pre-decoded single reading.
type SimplifiedReading struct {
	BeaconMAC   string
	Temperature *float64
	Battery     int
	Timestamp   any
	Extra       map[string]any
}

// ScanReport is a batch of raw advertisements seen during one scan cycle.
type ScanReport struct {
	Entries []ScanEntry
}

// ScanEntry is one device observed in a scan report. Valid is false when
// the entry could not be decoded as an object.
type ScanEntry struct {
	MAC   string `json:"mac"`
	Adv   string `json:"adv"`
	Rsp   string `json:"rsp"`
	RSSI  any    `json:"rssi,omitempty"`
	TS    any    `json:"ts,omitempty"`
	Valid bool   `json:"-"`
}

// Classify parses raw and resolves its shape. Syntactically invalid JSON
// returns ErrInvalidJSON; well-formed JSON of no known shape returns
// KindIgnored with a nil error.
func Classify(raw []byte) (Envelope, error) {
	if !json.Valid(raw) {
		return Envelope{}, ErrInvalidJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// valid JSON, but not an object
		return Envelope{Kind: KindIgnored}, nil
	}

	if _, ok := fields[FieldBeaconMAC]; ok {
		return Envelope{Kind: KindSimplified, Simplified: parseSimplified(fields)}, nil
	}

	if scan, ok := parseScanReport(fields); ok {
		return Envelope{Kind: KindScanReport, Scan: scan}, nil
	}

	return Envelope{Kind: KindIgnored}, nil
}

func parseSimplified(fields map[string]json.RawMessage) *SimplifiedReading {
	s := &SimplifiedReading{Extra: map[string]any{}}

	_ = json.Unmarshal(fields[FieldBeaconMAC], &s.BeaconMAC)

	for _, alias := range TemperatureAliases {
		v, ok := present(fields, alias)
		if !ok {
			continue
		}
		if f, isNum := v.(float64); isNum {
			s.Temperature = &f
		}
		break
	}

	for _, alias := range BatteryAliases {
		v, ok := present(fields, alias)
		if !ok {
			continue
		}
		if f, isNum := v.(float64); isNum {
			s.Battery = int(f)
			break
		}
	}

	if v, ok := present(fields, "ts"); ok {
		s.Timestamp = v
	}
	for _, name := range PassthroughFields {
		if v, ok := present(fields, name); ok {
			s.Extra[name] = v
		}
	}
	return s
}

func parseScanReport(fields map[string]json.RawMessage) (*ScanReport, bool) {
	var msg string
	if err := json.Unmarshal(fields[FieldMsg], &msg); err != nil || msg != ScanReportTag {
		return nil, false
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(fields[scanDataField], &data); err != nil {
		return nil, false
	}

	var devices []json.RawMessage
	if err := json.Unmarshal(data[scanDevicesField], &devices); err != nil || devices == nil {
		return nil, false
	}

	report := &ScanReport{Entries: make([]ScanEntry, 0, len(devices))}
	for _, d := range devices {
		var e ScanEntry
		if err := json.Unmarshal(d, &e); err == nil {
			e.Valid = true
		}
		report.Entries = append(report.Entries, e)
	}
	return report, true
}

// present decodes fields[name] and reports whether it exists and is not null.
func present(fields map[string]json.RawMessage, name string) (any, bool) {
	raw, ok := fields[name]
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return nil, false
	}
	return v, true
}
