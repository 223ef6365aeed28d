// Package k8sclient builds the HTTP transport this runtime forwards guest
// requests through: a thin client-go-backed wrapper that exposes only Do,
// so the core never depends on client-go's request/response types.
package k8sclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client forwards requests against a Kubernetes API server reached via the
// ambient kubeconfig, or the in-cluster config when running inside a pod.
type Client struct {
	http *http.Client
	base string
	log  *log.Logger
}

// New resolves the ambient kubeconfig (in-cluster config takes priority,
// then KUBECONFIG / ~/.kube/config) and builds a Client from it.
func New() (*Client, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, fmt.Errorf("resolving kubeconfig: %w", err)
	}

	transport, err := rest.TransportFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}

	return &Client{
		http: &http.Client{Transport: transport},
		base: cfg.Host,
		log:  log.New(io.Discard, "[k8sclient] ", log.LstdFlags),
	}, nil
}

// SetLogger routes the log lines written for 4xx/5xx responses that carry a
// Kubernetes Status body to logger instead of discarding them. Error bodies
// that do not decode as a Status are not logged.
func (c *Client) SetLogger(logger *log.Logger) {
	c.log = logger
}

// BaseURL is the cluster's API server address, the join target for every
// forwarded guest request.
func (c *Client) BaseURL() string {
	return c.base
}

// Do forwards req as-is. Callers are expected to have already rewritten its
// URL onto BaseURL(). The guest sees the response untouched; a 4xx/5xx
// Kubernetes Status body is only decoded here to produce a clearer log line,
// never to alter what the guest receives.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.logAPIError(req, resp)
	}

	return resp, nil
}

func (c *Client) logAPIError(req *http.Request, resp *http.Response) {
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return
	}

	var status metav1.Status
	if err := json.Unmarshal(data, &status); err != nil || status.Kind != "Status" {
		return
	}

	apiErr := errors.FromObject(&status)
	c.log.Printf("%s %s: %v", req.Method, req.URL.Path, apiErr)
}

func resolveConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}
