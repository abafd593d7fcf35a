// Package handler turns inbound MQTT messages into gated readings and hands
// them to the dispatcher.
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/hems/mqtt-forwarder/internal/decode"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/model"
)

// Drop reasons reported to the Observer.
const (
	DropInvalidJSON   = "invalid_json"
	DropIgnored       = "ignored"
	DropNoTemperature = "no_temperature"
	DropNoAddress     = "no_address"
	DropUnknownDevice = "unknown_device"
	DropNotAllowed    = "not_allowed"
	DropThrottled     = "throttled"
	DropQueueFull     = "queue_full"
	DropPanic         = "panic"
)

type Allowlist interface {
	IsAllowed(raw string) bool
}

type Throttle interface {
	ShouldSend(id string, temperature float64) bool
	MarkSent(id string, temperature float64)
}

type Dispatcher interface {
	Submit(r model.Reading) bool
}

// DeadLetterSink stores payloads that could not be parsed.
type DeadLetterSink interface {
	SendDeadLetter(ctx context.Context, dl model.DeadLetter) error
}

type Observer interface {
	MessageReceived(kind string)
	MessageDropped(reason string)
}

type Router struct {
	allowlist  Allowlist
	throttle   Throttle
	dispatcher Dispatcher
	deadLetter DeadLetterSink
	observer   Observer
	logger     *zap.SugaredLogger
	now        func() time.Time
}

type Option func(*Router)

func WithDeadLetter(s DeadLetterSink) Option { return func(r *Router) { r.deadLetter = s } }

func WithObserver(o Observer) Option { return func(r *Router) { r.observer = o } }

func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

func NewRouter(a Allowlist, t Throttle, d Dispatcher, logger *zap.SugaredLogger, opts ...Option) *Router {
	r := &Router{
		allowlist:  a,
		throttle:   t,
		dispatcher: d,
		logger:     logger.With("component", "router"),
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle processes one broker message. It never returns an error and never
// panics: every failure is logged and the message dropped.
func (r *Router) Handle(ctx context.Context, topic string, payload []byte) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorw("panic while handling message", "panic", p, "topic", topic, "payload", truncate(payload, 256))
			r.dropped(DropPanic)
		}
	}()

	receivedAt := r.now().UTC()
	gateway := model.GatewayFromTopic(topic)
	r.logger.Debugw("mqtt rx", "topic", topic, "bytes", len(payload))

	env, err := model.Classify(payload)
	if err != nil {
		r.logger.Warnw("invalid payload, dropping", "topic", topic, "error", err, "payload", truncate(payload, 512))
		r.received("invalid")
		r.dropped(DropInvalidJSON)
		r.sendDeadLetter(ctx, model.DeadLetter{
			Error:      err.Error(),
			Topic:      topic,
			Original:   string(payload),
			ReceivedAt: receivedAt,
		})
		return
	}
	r.received(env.Kind.String())

	switch env.Kind {
	case model.KindSimplified:
		r.handleSimplified(gateway, receivedAt, env.Simplified)
	case model.KindScanReport:
		r.handleScanReport(gateway, receivedAt, env.Scan)
	default:
		r.logger.Debugw("ignoring message of unknown shape", "topic", topic)
		r.dropped(DropIgnored)
	}
}

func (r *Router) handleSimplified(gateway string, receivedAt time.Time, s *model.SimplifiedReading) {
	if s.Temperature == nil {
		r.logger.Debugw("no numeric temperature, dropping", "device", s.BeaconMAC, "gateway", gateway)
		r.dropped(DropNoTemperature)
		return
	}

	battery := s.Battery
	r.offer(model.Reading{
		DeviceID:    s.BeaconMAC,
		GatewayID:   gateway,
		Temperature: s.Temperature,
		Battery:     &battery,
		Timestamp:   s.Timestamp,
		Extra:       s.Extra,
		ReceivedAt:  receivedAt,
	})
}

func (r *Router) handleScanReport(gateway string, receivedAt time.Time, scan *model.ScanReport) {
	forwarded := 0
	for _, e := range scan.Entries {
		if !e.Valid || e.MAC == "" {
			r.dropped(DropNoAddress)
			continue
		}

		res := decode.Decode(e.Adv, e.Rsp)
		if res.Temperature == nil {
			r.dropped(DropNoTemperature)
			continue
		}

		extra := map[string]any{}
		if e.RSSI != nil {
			extra["rssi"] = e.RSSI
		}
		if r.offer(model.Reading{
			DeviceID:    e.MAC,
			GatewayID:   gateway,
			Temperature: res.Temperature,
			Battery:     res.Battery,
			Timestamp:   e.TS,
			Extra:       extra,
			ReceivedAt:  receivedAt,
		}) {
			forwarded++
		}
	}

	if forwarded > 0 {
		r.logger.Infow("scan report forwarded", "gateway", gateway, "devices", forwarded, "entries", len(scan.Entries))
	}
}

// offer runs a reading through the allowlist and throttle and submits it.
// The throttle record is only updated once the dispatcher took the reading.
func (r *Router) offer(rd model.Reading) bool {
	key := rd.Key()
	if key == "" {
		r.logger.Debugw("reading without usable device address", "raw", rd.DeviceID, "gateway", rd.GatewayID)
		r.dropped(DropUnknownDevice)
		return false
	}
	if !r.allowlist.IsAllowed(rd.DeviceID) {
		r.dropped(DropNotAllowed)
		return false
	}

	temp := *rd.Temperature
	if !r.throttle.ShouldSend(key, temp) {
		r.dropped(DropThrottled)
		return false
	}
	if !r.dispatcher.Submit(rd) {
		r.dropped(DropQueueFull)
		return false
	}
	r.throttle.MarkSent(key, temp)
	return true
}

func (r *Router) sendDeadLetter(ctx context.Context, dl model.DeadLetter) {
	if r.deadLetter == nil {
		return
	}
	if err := r.deadLetter.SendDeadLetter(ctx, dl); err != nil {
		r.logger.Errorw("dead letter write failed", "topic", dl.Topic, "error", err)
	}
}

func (r *Router) received(kind string) {
	if r.observer != nil {
		r.observer.MessageReceived(kind)
	}
}

func (r *Router) dropped(reason string) {
	if r.observer != nil {
		r.observer.MessageDropped(reason)
	}
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
