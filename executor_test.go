package wasmop

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestJoinClusterURL(t *testing.T) {
	tests := []struct {
		name        string
		clusterBase string
		requestURI  string
		want        string
		wantErr     bool
	}{
		{
			name:        "path and query carried over onto cluster authority",
			clusterBase: "https://10.0.0.1:6443",
			requestURI:  "/api/v1/namespaces/default/pods?watch=true",
			want:        "https://10.0.0.1:6443/api/v1/namespaces/default/pods?watch=true",
		},
		{
			name:        "cluster base path is discarded",
			clusterBase: "https://10.0.0.1:6443/ignored",
			requestURI:  "/apis/apps/v1/deployments",
			want:        "https://10.0.0.1:6443/apis/apps/v1/deployments",
		},
		{
			name:        "invalid request uri",
			clusterBase: "https://10.0.0.1:6443",
			requestURI:  "://bad",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := joinClusterURL(tt.clusterBase, tt.requestURI)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("joinClusterURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("joinClusterURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeClusterClient struct {
	resp *http.Response
	err  error
}

func (c *fakeClusterClient) Do(req *http.Request) (*http.Response, error) {
	return c.resp, c.err
}

func TestExecuteUnary(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
	}
	client := &fakeClusterClient{resp: resp}

	req, _ := http.NewRequest(http.MethodGet, "http://guest.invalid/api/v1/foo", nil)
	meta, body, err := executeUnary(context.Background(), req, "https://10.0.0.1:6443", client)
	if err != nil {
		t.Fatalf("executeUnary: %v", err)
	}
	if meta.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", meta.StatusCode, http.StatusOK)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q, want %q", body, `{"ok":true}`)
	}
}

func TestExecuteUnaryTransportError(t *testing.T) {
	client := &fakeClusterClient{err: errors.New("connection refused")}
	req, _ := http.NewRequest(http.MethodGet, "http://guest.invalid/api/v1/foo", nil)

	_, _, err := executeUnary(context.Background(), req, "https://10.0.0.1:6443", client)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
}

// watchServerClient forwards to a real httptest server so executeStream
// exercises a genuine streaming HTTP body rather than a canned *http.Response.
type watchServerClient struct {
	srv *httptest.Server
}

func (c *watchServerClient) Do(req *http.Request) (*http.Response, error) {
	return c.srv.Client().Do(req)
}

func TestExecuteStreamDeliversChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event-one\n"))
		_, _ = w.Write([]byte("event-two\n"))
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	meta, chunks, err := executeStream(context.Background(), req, srv.URL, &watchServerClient{srv: srv}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("executeStream: %v", err)
	}
	if meta.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", meta.StatusCode, http.StatusOK)
	}
	if meta.HasBody {
		t.Error("stream metadata should not carry HasBody")
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				t.Fatal("chunks closed early")
			}
			got = append(got, string(chunk))
		case <-timeout:
			t.Fatal("timed out waiting for chunk")
		}
	}

	if len(got) != 2 || got[0] != "event-one" || got[1] != "event-two" {
		t.Errorf("chunks = %v, want [event-one event-two]", got)
	}
}

func TestDecodeLinesDemotesTimeoutToCleanEnd(t *testing.T) {
	body := io.NopCloser(&timeoutAfterReader{data: []byte("partial")})
	chunks := make(chan []byte)

	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range chunks {
		}
	}()

	decodeLines(body, chunks, logger)
	<-done

	if !strings.Contains(buf.String(), "client read timeout") {
		t.Errorf("log output = %q, want a client read timeout message", buf.String())
	}
}

// timeoutAfterReader yields data once, then returns a timeout error that
// satisfies net.Error, mimicking a watch connection idling past its deadline.
type timeoutAfterReader struct {
	data []byte
	sent bool
}

func (r *timeoutAfterReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		n := copy(p, r.data)
		return n, nil
	}
	return 0, fakeTimeoutError{}
}

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }
