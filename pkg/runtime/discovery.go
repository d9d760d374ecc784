package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultWaitTimeout bounds a WaitForEndpoint call.
	DefaultWaitTimeout = 60 * time.Second
	// DefaultWaitInterval is the spacing between endpoint probes.
	DefaultWaitInterval = 2500 * time.Millisecond
	// DefaultFetchTimeout bounds a model catalog fetch.
	DefaultFetchTimeout = 3 * time.Second
	// DefaultPreferredFamily is the model family AutoPickModel prefers.
	DefaultPreferredFamily = "qwen"
)

// ErrNoModels indicates the endpoint returned an empty model catalog.
var ErrNoModels = errors.New("No models found on server. Check your endpoint and that a model is loaded.")

// Model is a single catalog entry known to an endpoint.
type Model struct {
	ID string `json:"id"`
}

// CatalogClient fetches the model catalog from an endpoint.
type CatalogClient interface {
	ListModels(ctx context.Context) ([]Model, error)
}

// HTTPClient talks to an OpenAI-compatible /v1/models endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a catalog client for the given base endpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		client:   &http.Client{},
	}
}

// ListModels fetches the model catalog.
func (c *HTTPClient) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build models request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("models request returned status %d", resp.StatusCode)
	}

	var body struct {
		Data []Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}
	return body.Data, nil
}

// ProbeEndpoint issues a lightweight list-models health check. It returns
// true iff the call succeeds with a 2xx status. Any dial error, timeout,
// or non-2xx status yields false; it never returns an error.
func ProbeEndpoint(ctx context.Context, endpoint string) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/v1/models", nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// WaitOptions configures WaitForEndpoint.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	// Probe overrides the health check, used by tests.
	Probe func(ctx context.Context) bool
}

// WaitForEndpoint polls the endpoint health check until a probe succeeds
// (true) or the timeout elapses since the first probe (false). Used during
// environment startup when the backend may still be booting.
func WaitForEndpoint(ctx context.Context, endpoint string, opts WaitOptions) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWaitTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultWaitInterval
	}
	probe := opts.Probe
	if probe == nil {
		probe = func(ctx context.Context) bool {
			return ProbeEndpoint(ctx, endpoint)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		if probe(waitCtx) {
			return true
		}
		select {
		case <-waitCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// PickOptions configures AutoPickModel.
type PickOptions struct {
	// Cached skips the catalog fetch when non-empty.
	Cached []Model
	// PreferredFamily overrides the preferred model family marker.
	PreferredFamily string
	// FetchTimeout bounds the catalog fetch.
	FetchTimeout time.Duration
}

// AutoPickModel selects a default model from the endpoint catalog:
// the first entry whose id contains the preferred family marker
// (case-insensitive), else the first entry in server order, else
// ErrNoModels. Selection is deterministic for a fixed catalog.
func AutoPickModel(ctx context.Context, client CatalogClient, opts PickOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	catalog := opts.Cached
	if len(catalog) == 0 {
		if client == nil {
			return "", ErrNoModels
		}
		timeout := opts.FetchTimeout
		if timeout <= 0 {
			timeout = DefaultFetchTimeout
		}
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		models, err := client.ListModels(fetchCtx)
		if err != nil {
			return "", fmt.Errorf("%w (%v)", ErrNoModels, err)
		}
		catalog = models
	}

	if len(catalog) == 0 {
		return "", ErrNoModels
	}

	family := strings.ToLower(strings.TrimSpace(opts.PreferredFamily))
	if family == "" {
		family = DefaultPreferredFamily
	}
	for _, model := range catalog {
		if strings.Contains(strings.ToLower(model.ID), family) {
			return model.ID, nil
		}
	}
	return catalog[0].ID, nil
}
