// Package wasmop is a multi-tenant host runtime for Kubernetes controllers
// compiled to WebAssembly.
//
// Each guest module is a long-running reconcile loop: it issues outbound HTTP
// calls against a shared Kubernetes API endpoint and arms delay timers. The
// host serves those calls transparently and, to reclaim memory while a
// controller is idle, snapshots the guest's linear memory and mutable globals
// to disk, tears the instance down, and restores it in time for the next
// event.
//
// The public surface is intentionally small:
//   - Supervisor: one per process, precompiles modules and spawns one event
//     loop per module.
//   - ModuleEventLoop: drives a single guest's lifecycle and async operations.
//
// Everything else (the async-ABI bridge, the snapshot/restore state machine,
// the predictor client) is implementation detail reached only through those
// two entry points.
//
// ABI
//
// The guest/host boundary is a small set of WebAssembly imports and exports:
//   - imports: http-proxy-abi.request, delay-abi.delay
//   - exports: _start, allocate, wakeup, memory
//
// This implementation was written directly from the host-side contract; the
// guest side is out of scope and only its ABI conformance matters.
//
// Implementation:
//   - the async-ABI bridge and wire codec live in abi.go and codec.go
//   - the instantiate/snapshot/restore state machine lives in lifecycle.go
//   - the per-module async operation queue lives in ops.go
//   - the event loop driving both lives in eventloop.go
package wasmop
