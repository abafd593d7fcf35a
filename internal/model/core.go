package model

import "time"

// Reading is a normalized sensor reading ready to be gated and forwarded.
type Reading struct {
	DeviceID    string
	GatewayID   string
	Temperature *float64
	Battery     *int
	Timestamp   any
	Extra       map[string]any
	ReceivedAt  time.Time
}

// Key is the canonical device identifier used by the allowlist and throttle.
func (r Reading) Key() string { return Canonicalize(r.DeviceID) }

// Forwardable reports whether the reading carries a temperature.
func (r Reading) Forwardable() bool { return r.Temperature != nil }

// Payload builds the JSON body expected by the ingestion endpoint.
func (r Reading) Payload() map[string]any {
	out := make(map[string]any, 5+len(r.Extra))
	for k, v := range r.Extra {
		out[k] = v
	}

	battery := 0
	if r.Battery != nil {
		battery = *r.Battery
	}

	out["mac_address"] = r.DeviceID
	out["battery"] = battery
	out["gateway_mac"] = r.GatewayID
	if r.Temperature != nil {
		out["temperature"] = *r.Temperature
	}
	if r.Timestamp != nil {
		out["ts"] = r.Timestamp
	}
	return out
}

// MirrorEnvelope is what gets published to the Kafka mirror topic.
type MirrorEnvelope struct {
	EventID     string         `json:"eventId"`
	DeviceKey   string         `json:"deviceKey"`
	Reading     map[string]any `json:"reading"`
	ForwardedAt time.Time      `json:"forwardedAt"`
}

// DeadLetter describes an inbound payload that could not be parsed.
type DeadLetter struct {
	Error      string    `json:"error"`
	Topic      string    `json:"topic"`
	Original   string    `json:"original"`
	ReceivedAt time.Time `json:"receivedAt"`
}
