package forward

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/hems/mqtt-forwarder/internal/model"
)

// Observer is told how every delivery attempt ended.
type Observer interface {
	SinkOutcome(sink, outcome string)
	QueueFull()
}

// Dispatcher hands readings to a fixed pool of workers so the MQTT callback
// never waits on network I/O. Every reading goes to the primary sink and
// then to each mirror; failures are logged and never retried.
type Dispatcher struct {
	primary  Sink
	mirrors  []Sink
	queue    chan model.Reading
	timeout  time.Duration
	observer Observer
	logger   *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithMirrors(sinks ...Sink) DispatcherOption {
	return func(d *Dispatcher) { d.mirrors = append(d.mirrors, sinks...) }
}

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

func NewDispatcher(primary Sink, workers, capacity int, logger *zap.SugaredLogger, opts ...DispatcherOption) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	d := &Dispatcher{
		primary: primary,
		queue:   make(chan model.Reading, capacity),
		timeout: DefaultTimeout,
		logger:  logger.With("component", "dispatcher"),
	}
	for _, o := range opts {
		o(d)
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.loop()
	}
	return d
}

// Submit enqueues r without blocking. It returns false when the queue is
// full or the dispatcher was stopped; the reading is then dropped.
func (d *Dispatcher) Submit(r model.Reading) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- r:
		return true
	default:
		d.logger.Warnw("forward queue full, dropping reading", "device", r.DeviceID, "gateway", r.GatewayID)
		if d.observer != nil {
			d.observer.QueueFull()
		}
		return false
	}
}

// Stop refuses new readings and waits for the queued ones to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for r := range d.queue {
		d.deliver(d.primary, r)
		for _, m := range d.mirrors {
			d.deliver(m, r)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, r model.Reading) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := sink.Send(ctx, r)
	d.logOutcome(sink.Name(), r, err)
	if d.observer != nil {
		d.observer.SinkOutcome(sink.Name(), Outcome(err))
	}
}

func (d *Dispatcher) logOutcome(sink string, r model.Reading, err error) {
	fields := []any{"sink", sink, "device", r.DeviceID, "gateway", r.GatewayID}

	var se *StatusError
	switch {
	case err == nil:
		d.logger.Debugw("reading forwarded", fields...)
	case errors.Is(err, ErrDeviceNotRegistered):
		d.logger.Debugw("device not registered on ingestion side", fields...)
	case errors.As(err, &se):
		d.logger.Warnw("reading rejected", append(fields, "status", se.Code, "body", se.Body)...)
	default:
		d.logger.Errorw("reading forward failed", append(fields, "error", err)...)
	}
}
