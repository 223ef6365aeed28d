package wasmop

import (
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestOpsRunner(t *testing.T, handler http.HandlerFunc) (*opsRunner, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	client := &watchServerClient{srv: srv}
	return newOpsRunner("test-module", srv.URL, client, log.New(io.Discard, "", 0)), srv
}

func drainResults(t *testing.T, r *opsRunner, want int) []asyncResult {
	t.Helper()
	var got []asyncResult
	timeout := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case res := <-r.results:
			got = append(got, res)
		case <-timeout:
			t.Fatalf("timed out after %d of %d results", len(got), want)
		}
	}
	return got
}

func TestHandleRequestAllocatesIncreasingIDs(t *testing.T) {
	r, srv := newTestOpsRunner(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	req1, _ := http.NewRequest(http.MethodGet, "http://guest.invalid/a", nil)
	req2, _ := http.NewRequest(http.MethodGet, "http://guest.invalid/b", nil)

	id1 := r.handleRequest(asyncOp{kind: asyncHTTP, request: req1})
	id2 := r.handleRequest(asyncOp{kind: asyncHTTP, request: req2})

	if id2 != id1+1 {
		t.Errorf("id2 = %d, want %d", id2, id1+1)
	}

	drainResults(t, r, 4) // meta+body per request
}

func TestRunHTTPEmitsMetaThenBody(t *testing.T) {
	r, srv := newTestOpsRunner(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, "http://guest.invalid/things", nil)
	id := r.handleRequest(asyncOp{kind: asyncHTTP, request: req})

	results := drainResults(t, r, 2)

	if results[0].requestID != id || results[0].finished {
		t.Errorf("meta result = %+v, want requestID=%d finished=false", results[0], id)
	}
	meta, err := decodeResponseRecord(results[0].payload)
	if err != nil {
		t.Fatalf("decodeResponseRecord: %v", err)
	}
	if meta.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", meta.StatusCode, http.StatusCreated)
	}

	if !results[1].finished || string(results[1].payload) != "created" {
		t.Errorf("body result = %+v, want finished=true payload=created", results[1])
	}

	if r.hasPendingOps() {
		t.Error("hasPendingOps() = true, want false after both results drained")
	}
	if r.webCallCount() != 0 {
		t.Errorf("webCallCount() = %d, want 0 after Http op completes", r.webCallCount())
	}
}

func TestRunHTTPTransportErrorEmitsErr(t *testing.T) {
	client := &fakeClusterClient{err: errors.New("dial tcp: connection refused")}
	r := newOpsRunner("test-module", "https://cluster.invalid", client, log.New(io.Discard, "", 0))

	req, _ := http.NewRequest(http.MethodGet, "http://guest.invalid/x", nil)
	id := r.handleRequest(asyncOp{kind: asyncHTTP, request: req})

	results := drainResults(t, r, 1)
	if results[0].requestID != id || results[0].err == nil {
		t.Errorf("result = %+v, want an error for requestID=%d", results[0], id)
	}
	if r.hasPendingOps() {
		t.Error("hasPendingOps() = true, want false after error result")
	}
}

func TestRunHTTPStreamEmitsMetaChunksThenTerminal(t *testing.T) {
	r, srv := newTestOpsRunner(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("added\n"))
		_, _ = w.Write([]byte("modified\n"))
	})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, "http://guest.invalid/watch", nil)
	id := r.handleRequest(asyncOp{kind: asyncHTTPStream, request: req})

	results := drainResults(t, r, 4) // meta, added, modified, terminal

	meta, err := decodeResponseRecord(results[0].payload)
	if err != nil {
		t.Fatalf("decodeResponseRecord: %v", err)
	}
	if meta.HasBody {
		t.Error("stream metadata should carry HasBody=false")
	}

	if string(results[1].payload) != "added" || string(results[2].payload) != "modified" {
		t.Errorf("chunks = %q, %q, want added, modified", results[1].payload, results[2].payload)
	}

	if !results[3].finished || results[3].requestID != id {
		t.Errorf("terminal result = %+v, want finished=true requestID=%d", results[3], id)
	}

	// HttpStream never counts toward nr_web_calls, so pending must clear
	// without anyone decrementing a web call that was never incremented.
	if r.hasPendingOps() {
		t.Error("hasPendingOps() = true, want false after stream terminal")
	}
}

func TestRunDelayEmitsSingleTerminalResult(t *testing.T) {
	r := newOpsRunner("test-module", "", nil, log.New(io.Discard, "", 0))

	id := r.handleRequest(asyncOp{kind: asyncDelay, delay: 10 * time.Millisecond})

	results := drainResults(t, r, 1)
	if !results[0].finished || results[0].hasPayload || results[0].requestID != id {
		t.Errorf("result = %+v, want a single finished result with no payload", results[0])
	}
}
