package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors forming the adapter's failure taxonomy. Callers classify
// with errors.Is; richer variants below wrap these sentinels so both checks
// work.
var (
	// ErrUnsupportedSecurityType marks a security type the adapter cannot
	// translate. Programmer or configuration error; fail fast.
	ErrUnsupportedSecurityType = errors.New("unsupported security type")

	// ErrUnsupportedOrderType marks an order kind the brokerage cannot
	// express.
	ErrUnsupportedOrderType = errors.New("unsupported order type")

	// ErrUnsupportedOperation marks an instruction combination outside the
	// decision table. Deliberate exhaustiveness check, not a fallback.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrNotFound marks a stream event referencing an unknown order ID.
	// Logged and dropped; the stream offers no replay.
	ErrNotFound = errors.New("order not found")

	// ErrTimeout marks a bounded wait that expired, e.g. an update
	// confirmation that never arrived.
	ErrTimeout = errors.New("timed out")
)

// ValidationError carries the brokerage's rejection of an order payload. It
// surfaces to the host as an Invalid status with the joined rule messages.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "order rejected: " + strings.Join(e.Messages, "; ")
}

// TransportError wraps a network-layer failure during Place/Update/Cancel.
// It is propagated, never retried, at this layer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
