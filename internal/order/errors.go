package order

import "errors"

var (
	// ErrValidation marks malformed or missing required input, rejected
	// before any order is touched.
	ErrValidation = errors.New("invalid order input")

	// ErrDuplicateReference marks a (service, service_reference) pair
	// that already exists.
	ErrDuplicateReference = errors.New("order reference already exists for service")

	// ErrGatewayMismatch marks an order/instance/service binding that is
	// inconsistent, or a disabled instance.
	ErrGatewayMismatch = errors.New("order and gateway instance do not match")

	// ErrAlreadyFinalized marks an attempt to settle an order whose
	// status is already terminal. Callers surface it as "no such order to
	// verify", never as success.
	ErrAlreadyFinalized = errors.New("order already finalized")

	// ErrNotFound marks a missing order.
	ErrNotFound = errors.New("order not found")
)
