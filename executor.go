package wasmop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// maxLineLength bounds the stream decoder's internal buffer far above any
// realistic frame so it behaves as unbounded: a max-line-length error is
// reachable only as a last-resort guard, never in ordinary operation.
const maxLineLength = 1 << 30

// ClusterClient is the Kubernetes API transport guest requests are forwarded
// through. internal/k8sclient provides the production implementation;
// connection pooling, TLS, and auth all live there. No retries are made on
// either side of this interface.
type ClusterClient interface {
	Do(*http.Request) (*http.Response, error)
}

// joinClusterURL preserves clusterBase's scheme and authority, replacing its
// path and query with requestURI's.
func joinClusterURL(clusterBase, requestURI string) (string, error) {
	base, err := url.Parse(clusterBase)
	if err != nil {
		return "", fmt.Errorf("parsing cluster base url: %w", err)
	}
	ref, err := url.Parse(requestURI)
	if err != nil {
		return "", fmt.Errorf("parsing request uri: %w", err)
	}

	joined := *base
	joined.Path = ref.Path
	joined.RawPath = ref.RawPath
	joined.RawQuery = ref.RawQuery
	return joined.String(), nil
}

func forwardRequest(ctx context.Context, req *http.Request, clusterBase string) (*http.Request, error) {
	target, err := joinClusterURL(clusterBase, req.URL.RequestURI())
	if err != nil {
		return nil, err
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, fmt.Errorf("building forwarded request: %w", err)
	}
	out.Header = req.Header.Clone()
	return out, nil
}

func headerFields(h http.Header) []HeaderField {
	out := make([]HeaderField, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, HeaderField{Name: name, Value: v})
		}
	}
	return out
}

// executeUnary forwards req to the cluster through client and waits for the
// full response body.
func executeUnary(ctx context.Context, req *http.Request, clusterBase string, client ClusterClient) (ResponseRecord, []byte, error) {
	out, err := forwardRequest(ctx, req, clusterBase)
	if err != nil {
		return ResponseRecord{}, nil, err
	}

	resp, err := client.Do(out)
	if err != nil {
		return ResponseRecord{}, nil, fmt.Errorf("forwarding request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ResponseRecord{}, nil, fmt.Errorf("reading response body: %w", err)
	}

	meta := ResponseRecord{StatusCode: int32(resp.StatusCode), Headers: headerFields(resp.Header)}
	return meta, body, nil
}

// executeStream forwards req to the cluster and returns metadata plus a
// channel of newline-delimited chunks read off the response body. The
// channel is closed once the body ends, whether cleanly or via a
// demoted soft error.
func executeStream(ctx context.Context, req *http.Request, clusterBase string, client ClusterClient, logger *log.Logger) (ResponseRecord, <-chan []byte, error) {
	out, err := forwardRequest(ctx, req, clusterBase)
	if err != nil {
		return ResponseRecord{}, nil, err
	}

	resp, err := client.Do(out)
	if err != nil {
		return ResponseRecord{}, nil, fmt.Errorf("forwarding request: %w", err)
	}

	meta := ResponseRecord{StatusCode: int32(resp.StatusCode), Headers: headerFields(resp.Header)}

	chunks := make(chan []byte)
	go decodeLines(resp.Body, chunks, logger)

	return meta, chunks, nil
}

// decodeLines reads newline-delimited frames from body, sending a copy of
// each onto chunks, and closes chunks when the stream ends. A client read
// timeout or an "unexpected EOF during chunk" error — both symptomatic of a
// server-side watch idling past its deadline — are demoted to a warning and
// a clean end rather than surfaced as an error.
func decodeLines(body io.ReadCloser, chunks chan<- []byte, logger *log.Logger) {
	defer close(chunks)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	for scanner.Scan() {
		line := scanner.Bytes()
		cp := make([]byte, len(line))
		copy(cp, line)
		chunks <- cp
	}

	if err := scanner.Err(); err != nil {
		switch {
		case isTimeout(err):
			logger.Printf("stream decoder: client read timeout, ending stream cleanly: %v", err)
		case errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(err.Error(), "unexpected EOF"):
			logger.Printf("stream decoder: unexpected EOF during chunk, ending stream cleanly: %v", err)
		case errors.Is(err, bufio.ErrTooLong):
			logger.Printf("stream decoder: max line length exceeded, ending stream: %v", err)
		default:
			logger.Printf("stream decoder: %v", err)
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
