package wasmop

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

type asyncOpKind int

const (
	asyncHTTP asyncOpKind = iota
	asyncHTTPStream
	asyncDelay
)

// asyncOp is a request the guest handed the host through one of the two ABI
// imports, not yet started.
type asyncOp struct {
	kind    asyncOpKind
	request *http.Request
	delay   time.Duration
}

// asyncResult is one value flowing back from an in-flight operation to the
// module event loop. A Delay produces exactly one, with finished=true. An
// Http produces a metadata result then a body result. An HttpStream
// produces metadata, zero or more chunks, then one empty terminal result.
// err is set only when the underlying operation failed outright, which is
// always fatal to the module.
type asyncResult struct {
	requestID  uint64
	payload    []byte
	hasPayload bool
	finished   bool
	err        error
}

// opsRunner is one module's queue of in-flight async operations: it turns
// ABI requests into goroutines started immediately on arrival and collects
// every result onto a single channel the event loop drains.
type opsRunner struct {
	name    string
	cluster string
	client  ClusterClient
	log     *log.Logger

	mu         sync.Mutex
	nextID     uint64
	pending    int
	nrWebCalls int

	results chan asyncResult
}

func newOpsRunner(name, cluster string, client ClusterClient, logger *log.Logger) *opsRunner {
	return &opsRunner{
		name:    name,
		cluster: cluster,
		client:  client,
		log:     logger,
		results: make(chan asyncResult, 16),
	}
}

// handleRequest allocates a fresh, strictly increasing request ID and
// spawns the operation's goroutine before returning it, so the underlying
// work (the HTTP send, the timer) starts before the event loop's next turn.
// nr_web_calls only ever counts Http operations: HttpStream watches are
// long-lived by design and must not pin the instance awake, and Delay never
// touches the Kubernetes client at all.
func (r *opsRunner) handleRequest(op asyncOp) uint64 {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.pending++
	if op.kind == asyncHTTP {
		r.nrWebCalls++
	}
	r.mu.Unlock()

	go r.run(id, op)

	return id
}

func (r *opsRunner) run(id uint64, op asyncOp) {
	switch op.kind {
	case asyncHTTP:
		r.runHTTP(id, op.request)
	case asyncHTTPStream:
		r.runHTTPStream(id, op.request)
	case asyncDelay:
		r.runDelay(id, op.delay)
	}
}

func (r *opsRunner) runDelay(id uint64, d time.Duration) {
	time.Sleep(d)
	r.emit(asyncResult{requestID: id, finished: true})
	r.finish(false)
}

func (r *opsRunner) runHTTP(id uint64, req *http.Request) {
	meta, body, err := executeUnary(context.Background(), req, r.cluster, r.client)
	if err != nil {
		r.emit(asyncResult{requestID: id, err: fmt.Errorf("request executor: %w", err)})
		r.finish(true)
		return
	}
	meta.HasBody = true

	r.emit(asyncResult{requestID: id, payload: encodeResponseRecord(meta), hasPayload: true, finished: false})
	r.emit(asyncResult{requestID: id, payload: body, hasPayload: true, finished: true})
	r.finish(true)
}

func (r *opsRunner) runHTTPStream(id uint64, req *http.Request) {
	streamMeta := ResponseRecord{}
	meta, chunks, err := executeStream(context.Background(), req, r.cluster, r.client, r.log)
	if err != nil {
		r.emit(asyncResult{requestID: id, err: fmt.Errorf("request executor: %w", err)})
		r.finish(false)
		return
	}
	streamMeta = meta
	streamMeta.HasBody = false

	r.emit(asyncResult{requestID: id, payload: encodeResponseRecord(streamMeta), hasPayload: true, finished: false})
	for chunk := range chunks {
		r.emit(asyncResult{requestID: id, payload: chunk, hasPayload: true, finished: false})
	}
	r.emit(asyncResult{requestID: id, finished: true})
	r.finish(false)
}

func (r *opsRunner) emit(res asyncResult) {
	r.results <- res
}

// finish marks one operation resolved. decrementWebCall is true only for
// Http: nr_web_calls counts requests that have started but not yet produced
// their terminal result.
func (r *opsRunner) finish(decrementWebCall bool) {
	r.mu.Lock()
	r.pending--
	if decrementWebCall {
		r.nrWebCalls--
	}
	r.mu.Unlock()
}

func (r *opsRunner) hasPendingOps() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending > 0
}

func (r *opsRunner) webCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nrWebCalls
}
