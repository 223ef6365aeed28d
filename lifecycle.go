package wasmop

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bytecodealliance/wasmtime-go/v37"
)

// globalValue is one mutable exported global's name and captured value, as
// read at uninstantiate time and written back on restore.
type globalValue struct {
	name string
	val  wasmtime.Val
}

// guestSnapshot is a module's state while uninstantiated: the byte count its
// linear memory must be grown to before restore, and every mutable global's
// captured value. The memory bytes themselves live in the swap file, not
// here.
type guestSnapshot struct {
	memoryMin uint64
	globals   []globalValue
}

// liveGuest is a module's state while instantiated.
type liveGuest struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance
	module   *wasmtime.Module
	memory   *Memory
}

// guestInstance holds one module's lifecycle state machine: NotInst (both
// live and snap nil, started false), GotInst (live non-nil), UnsInst (snap
// non-nil). busy enforces that only one lifecycle transition is in flight at
// a time; invoking a second while one is running is a contract violation,
// not a thing to queue behind.
type guestInstance struct {
	ctx *setupContext

	busy atomic.Bool

	mu      sync.Mutex
	live    *liveGuest
	snap    *guestSnapshot
	started bool
}

func newGuestInstance(ctx *setupContext) *guestInstance {
	return &guestInstance{ctx: ctx}
}

func (g *guestInstance) isLive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live != nil
}

func (g *guestInstance) isUninstantiated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap != nil
}

// startController instantiates the guest for the first time and runs its
// entry point to the first suspension.
func (g *guestInstance) startController(ctx context.Context) error {
	if !g.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: start_controller invoked while another transition is in flight", ErrContractViolation)
	}
	defer g.busy.Store(false)

	g.mu.Lock()
	already := g.started
	g.mu.Unlock()
	if already {
		return fmt.Errorf("%w: start_controller invoked after the guest already started", ErrContractViolation)
	}

	if err := g.ctx.permits.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring guest permit: %w", err)
	}

	store, instance, module, mem, err := instantiateGuest(g.ctx)
	if err != nil {
		g.ctx.permits.Release(1)
		return fmt.Errorf("instantiating guest %s: %w", g.ctx.name, err)
	}

	g.mu.Lock()
	g.live = &liveGuest{store: store, instance: instance, module: module, memory: mem}
	g.started = true
	g.mu.Unlock()

	if err := callStart(store, instance); err != nil {
		return fmt.Errorf("%w: guest %s trapped in _start: %v", ErrModuleFatal, g.ctx.name, err)
	}
	g.ctx.log.Printf("%s: started", g.ctx.name)
	return nil
}

// uninstantiate snapshots the live guest's linear memory and mutable
// globals, tears it down, and releases its permit.
func (g *guestInstance) uninstantiate() error {
	if !g.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: uninstantiate invoked while another transition is in flight", ErrContractViolation)
	}
	defer g.busy.Store(false)

	g.mu.Lock()
	live := g.live
	g.mu.Unlock()
	if live == nil {
		return fmt.Errorf("%w: uninstantiate invoked without a live instance", ErrContractViolation)
	}

	data := live.memory.Data()
	if err := os.WriteFile(g.ctx.swapPath, data, 0o600); err != nil {
		return fmt.Errorf("writing swap file %s: %w", g.ctx.swapPath, err)
	}

	globals, err := captureMutableGlobals(live.store, live.instance, live.module)
	if err != nil {
		return fmt.Errorf("capturing mutable globals: %w", err)
	}

	g.mu.Lock()
	g.live = nil
	g.snap = &guestSnapshot{memoryMin: uint64(len(data)), globals: globals}
	g.mu.Unlock()

	g.ctx.permits.Release(1)
	g.ctx.log.Printf("%s: uninstantiated, %d bytes swapped", g.ctx.name, len(data))
	return nil
}

// restore reinstantiates an uninstantiated guest: grows memory to at least
// memory_min, reloads the swap file, and writes back every captured global.
// It is the shared first half of wakeup and loadToMem.
func (g *guestInstance) restore(ctx context.Context) (*liveGuest, error) {
	g.mu.Lock()
	snap := g.snap
	g.mu.Unlock()
	if snap == nil {
		return nil, fmt.Errorf("%w: restore invoked without a snapshot", ErrContractViolation)
	}

	if err := g.ctx.permits.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring guest permit: %w", err)
	}

	store, instance, module, mem, err := instantiateGuest(g.ctx)
	if err != nil {
		g.ctx.permits.Release(1)
		return nil, fmt.Errorf("reinstantiating guest %s: %w", g.ctx.name, err)
	}

	current := mem.MemorySlice.(*wasmMemory).mem.DataSize(store)
	if uint64(current) < snap.memoryMin {
		grow := (snap.memoryMin - uint64(current) + wasmPageSize - 1) / wasmPageSize
		if _, err := mem.MemorySlice.(*wasmMemory).grow(grow); err != nil {
			g.ctx.permits.Release(1)
			return nil, fmt.Errorf("growing memory for %s: %w", g.ctx.name, err)
		}
	}

	raw, err := os.ReadFile(g.ctx.swapPath)
	if err != nil {
		g.ctx.permits.Release(1)
		return nil, fmt.Errorf("reading swap file %s: %w", g.ctx.swapPath, err)
	}
	if uint64(len(raw)) != snap.memoryMin {
		g.ctx.permits.Release(1)
		return nil, fmt.Errorf("%w: swap file %s is %d bytes, want %d", ErrModuleFatal, g.ctx.swapPath, len(raw), snap.memoryMin)
	}
	copy(mem.Data(), raw)

	for _, gv := range snap.globals {
		export := instance.GetExport(store, gv.name)
		if export == nil || export.Global() == nil {
			continue
		}
		if err := export.Global().Set(store, gv.val); err != nil {
			g.ctx.permits.Release(1)
			return nil, fmt.Errorf("restoring global %s on %s: %w", gv.name, g.ctx.name, err)
		}
	}

	live := &liveGuest{store: store, instance: instance, module: module, memory: mem}
	g.mu.Lock()
	g.live = live
	g.snap = nil
	g.mu.Unlock()

	g.ctx.log.Printf("%s: restored", g.ctx.name)
	return live, nil
}

// loadToMem restores the guest without invoking its wakeup export, used to
// get ahead of a predicted event.
func (g *guestInstance) loadToMem(ctx context.Context) error {
	if !g.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: load_to_mem invoked while another transition is in flight", ErrContractViolation)
	}
	defer g.busy.Store(false)

	_, err := g.restore(ctx)
	return err
}

// wakeup restores the guest if necessary and delivers the given result
// through its wakeup export.
func (g *guestInstance) wakeup(ctx context.Context, requestID uint64, payload []byte, finished bool) error {
	if !g.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: wakeup invoked while another transition is in flight", ErrContractViolation)
	}
	defer g.busy.Store(false)

	g.mu.Lock()
	live := g.live
	g.mu.Unlock()

	var err error
	if live == nil {
		live, err = g.restore(ctx)
		if err != nil {
			return err
		}
	}

	if err := callWakeup(live.store, live.instance, live.memory, requestID, finished, payload); err != nil {
		return fmt.Errorf("%w: guest %s trapped in wakeup: %v", ErrModuleFatal, g.ctx.name, err)
	}
	return nil
}

// captureMutableGlobals enumerates module's exports, keeping only mutable
// globals, and reads each one's current value out of instance.
func captureMutableGlobals(store *wasmtime.Store, instance *wasmtime.Instance, module *wasmtime.Module) ([]globalValue, error) {
	var out []globalValue
	for _, exp := range module.Type().Exports() {
		gt := exp.Type().GlobalType()
		if gt == nil || !gt.Mutability() {
			continue
		}
		ext := instance.GetExport(store, exp.Name())
		if ext == nil || ext.Global() == nil {
			continue
		}
		out = append(out, globalValue{name: exp.Name(), val: ext.Global().Get(store)})
	}
	return out, nil
}
