package sim

import (
	"errors"
	"fmt"
)

// ErrorKind tags every failure the engine can return.
type ErrorKind int

const (
	// KindNone means the call succeeded.
	KindNone ErrorKind = iota
	// KindInvalidParameter: bad size or direction, rejected before any side effect.
	KindInvalidParameter
	// KindResourceExhausted: descriptor ring full. Retriable, not a transfer error.
	KindResourceExhausted
	// KindSimulatedFault: injected timeout/corruption/overrun. Counted as a
	// transfer error after the full latency path ran.
	KindSimulatedFault
	// KindBackendUnavailable: device could not be opened or is closed.
	KindBackendUnavailable
)

// Sentinel errors for each kind. errors.Is matches a *TransferError against these.
var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrSimulatedFault     = errors.New("simulated fault")
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrOverflow is returned by Ring.Submit when the ring is full.
	ErrOverflow = errors.New("descriptor ring overflow")
	// ErrUnderflow is returned by Ring.Complete when the ring is empty.
	ErrUnderflow = errors.New("descriptor ring underflow")
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidParameter:
		return "invalid-parameter"
	case KindResourceExhausted:
		return "resource-exhausted"
	case KindSimulatedFault:
		return "simulated-fault"
	case KindBackendUnavailable:
		return "backend-unavailable"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Retriable reports whether a caller may retry after backing off.
func (k ErrorKind) Retriable() bool {
	return k == KindResourceExhausted
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidParameter:
		return ErrInvalidParameter
	case KindResourceExhausted:
		return ErrResourceExhausted
	case KindSimulatedFault:
		return ErrSimulatedFault
	case KindBackendUnavailable:
		return ErrBackendUnavailable
	default:
		return nil
	}
}

// TransferError is the tagged failure returned by engine operations.
// Scenario is set only for KindSimulatedFault.
type TransferError struct {
	Kind     ErrorKind
	Scenario Scenario
	Err      error
}

func (e *TransferError) Error() string {
	msg := "transfer error"
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Kind == KindSimulatedFault {
		msg = fmt.Sprintf("%s (%s)", msg, e.Scenario)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *TransferError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf extracts the ErrorKind from err. nil maps to KindNone; errors not
// produced by the engine map to KindBackendUnavailable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidParameter):
		return KindInvalidParameter
	case errors.Is(err, ErrResourceExhausted), errors.Is(err, ErrOverflow):
		return KindResourceExhausted
	case errors.Is(err, ErrSimulatedFault):
		return KindSimulatedFault
	}
	return KindBackendUnavailable
}

func invalidParameter(format string, args ...any) error {
	return &TransferError{Kind: KindInvalidParameter, Err: fmt.Errorf(format, args...)}
}

func backendUnavailable(format string, args ...any) error {
	return &TransferError{Kind: KindBackendUnavailable, Err: fmt.Errorf(format, args...)}
}
