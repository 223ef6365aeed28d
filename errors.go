package wasmop

import "errors"

// Sentinel errors surfaced across the host/guest boundary, for callers
// expected to check with errors.Is.
var (
	// ErrModuleFatal marks an error that terminates a single module's event
	// loop. Other modules in the process are unaffected.
	ErrModuleFatal = errors.New("wasmop: module fatal error")

	// ErrContractViolation marks a programming error in the host itself,
	// e.g. invoking a lifecycle transition while one is already in flight.
	ErrContractViolation = errors.New("wasmop: contract violation")
)
