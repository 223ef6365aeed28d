package wasmop

import "time"

// Timing constants governing the idle predictor loop.
const (
	// shutdownInactiveInterval is how long a module must be idle, with no
	// pending HTTP calls, before the event loop snapshots it.
	shutdownInactiveInterval = 1000 * time.Millisecond

	// timeBeforePredicted is how far ahead of a predicted wakeup the loop
	// restores a snapshotted guest, so the restore overlaps the real event.
	timeBeforePredicted = 1000 * time.Millisecond

	// gracePeriod is how long after a predicted wakeup the prediction is
	// still considered live before being treated as a miss.
	gracePeriod = 1000 * time.Millisecond

	// eventHistoryLimit bounds the FIFO of recent event timestamps fed to
	// the predictor.
	eventHistoryLimit = 50

	// wasmPageSize is the WebAssembly linear memory page size in bytes.
	wasmPageSize = 1 << 16

	// defaultPoolSizeSnapshotting is the active-guest semaphore capacity
	// when snapshot/restore is enabled.
	defaultPoolSizeSnapshotting = 100

	// defaultPoolSizeResident is the active-guest semaphore capacity when
	// snapshotting is disabled and guests stay resident indefinitely.
	defaultPoolSizeResident = 1000

	// maxConcurrentPrecompiles bounds how many module artifacts the
	// supervisor compiles in parallel at startup.
	maxConcurrentPrecompiles = 10
)

// wakeup finished-flag values, as delivered to the guest's `wakeup` export.
const (
	wakeupIntermediate int32 = 0
	wakeupFinished     int32 = 1
)
