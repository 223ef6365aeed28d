package wasmop

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v37"
)

// stream flag values for http-proxy-abi.request's third argument.
const (
	requestUnary  int32 = 0
	requestStream int32 = 1
)

// abiError is the sentinel request ID returned to the guest when a host
// import panics instead of completing normally.
const abiError int64 = -1

// linkABI wires the two host imports every guest sees: http-proxy-abi.request
// and delay-abi.delay. Both close over ctx so a call reaches this module's
// own ops runner and loggers, never another module's.
func linkABI(ctx *setupContext, linker *wasmtime.Linker) error {
	err := linker.FuncWrap("http-proxy-abi", "request",
		func(caller *wasmtime.Caller, ptr, size, stream int32) (id int64) {
			defer func() {
				if r := recover(); r != nil {
					ctx.abilog.Printf("panic in http-proxy-abi.request: %v", r)
					id = abiError
				}
			}()
			return abiRequest(ctx, caller, ptr, size, stream)
		})
	if err != nil {
		return fmt.Errorf("linking http-proxy-abi.request: %w", err)
	}

	err = linker.FuncWrap("delay-abi", "delay",
		func(caller *wasmtime.Caller, millis int64) (id int64) {
			defer func() {
				if r := recover(); r != nil {
					ctx.abilog.Printf("panic in delay-abi.delay: %v", r)
					id = abiError
				}
			}()
			return abiDelay(ctx, millis)
		})
	if err != nil {
		return fmt.Errorf("linking delay-abi.delay: %w", err)
	}

	return nil
}

// callerMemory wraps the calling instance's own exported memory, reachable
// mid-call through the *wasmtime.Caller without needing its Store handle.
func callerMemory(caller *wasmtime.Caller) *Memory {
	export := caller.GetExport("memory")
	if export == nil || export.Memory() == nil {
		panic("guest has no memory export")
	}
	return &Memory{&wasmMemory{store: caller, mem: export.Memory()}}
}

func abiRequest(ctx *setupContext, caller *wasmtime.Caller, ptr, size, stream int32) int64 {
	mem := callerMemory(caller)
	raw := make([]byte, size)
	if _, err := mem.ReadAt(raw, int64(ptr)); err != nil {
		panic(fmt.Sprintf("reading request record: %v", err))
	}

	record, err := decodeRequestRecord(raw)
	if err != nil {
		panic(fmt.Sprintf("decoding request record: %v", err))
	}

	req, err := http.NewRequest(record.Method, record.URI, bytes.NewReader(record.Body))
	if err != nil {
		panic(fmt.Sprintf("building guest request: %v", err))
	}
	for _, h := range record.Headers {
		req.Header.Add(h.Name, h.Value)
	}

	kind := asyncHTTP
	if stream == requestStream {
		kind = asyncHTTPStream
	}

	return int64(ctx.ops.handleRequest(asyncOp{kind: kind, request: req}))
}

func abiDelay(ctx *setupContext, millis int64) int64 {
	return int64(ctx.ops.handleRequest(asyncOp{kind: asyncDelay, delay: time.Duration(millis) * time.Millisecond}))
}

// callStart invokes the guest's _start export.
func callStart(store *wasmtime.Store, instance *wasmtime.Instance) error {
	export := instance.GetExport(store, "_start")
	if export == nil || export.Func() == nil {
		return fmt.Errorf("%w: module does not export _start", ErrContractViolation)
	}
	_, err := export.Func().Call(store)
	return err
}

// guestAllocate invokes the guest's allocate export, asking for size bytes
// of linear memory the host may write into.
func guestAllocate(store *wasmtime.Store, instance *wasmtime.Instance, size int32) (int32, error) {
	export := instance.GetExport(store, "allocate")
	if export == nil || export.Func() == nil {
		return 0, fmt.Errorf("%w: module does not export allocate", ErrContractViolation)
	}
	ret, err := export.Func().Call(store, size)
	if err != nil {
		return 0, err
	}
	ptr, ok := ret.(int32)
	if !ok {
		return 0, fmt.Errorf("%w: allocate returned %T, want int32", ErrContractViolation, ret)
	}
	return ptr, nil
}

// callWakeup delivers one async result to the guest's wakeup export. A
// non-empty payload is first written into memory obtained from allocate; a
// nil/empty payload is delivered as a null pointer and zero length.
func callWakeup(store *wasmtime.Store, instance *wasmtime.Instance, mem *Memory, requestID uint64, finished bool, payload []byte) error {
	export := instance.GetExport(store, "wakeup")
	if export == nil || export.Func() == nil {
		return fmt.Errorf("%w: module does not export wakeup", ErrContractViolation)
	}

	var ptr, size int32
	if len(payload) > 0 {
		var err error
		ptr, err = guestAllocate(store, instance, int32(len(payload)))
		if err != nil {
			return fmt.Errorf("allocating wakeup payload: %w", err)
		}
		if _, err := mem.WriteAt(payload, int64(ptr)); err != nil {
			return fmt.Errorf("writing wakeup payload: %w", err)
		}
		size = int32(len(payload))
	}

	flag := wakeupIntermediate
	if finished {
		flag = wakeupFinished
	}

	_, err := export.Func().Call(store, int64(requestID), flag, ptr, size)
	return err
}
