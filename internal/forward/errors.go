package forward

import (
	"errors"
	"fmt"
)

// ErrDeviceNotRegistered is returned when the ingestion endpoint does not
// know the device yet. It is expected for devices seen on air but not
// provisioned server side.
var ErrDeviceNotRegistered = errors.New("device not registered")

// StatusError is an unexpected HTTP status from a sink.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Outcome labels used in logs and metrics.
const (
	OutcomeOK            = "ok"
	OutcomeNotRegistered = "not_registered"
	OutcomeRejected      = "rejected"
	OutcomeError         = "error"
)

// Outcome classifies a sink error.
func Outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrDeviceNotRegistered):
		return OutcomeNotRegistered
	case errors.As(err, &se):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
