package runtime

import (
	"strings"
	"sync"
)

// Handle is the active LLM backend connection reference injected into
// channel plugins. The host owns the canonical instance; plugins hold a
// non-owning reference and only read it. The mutex exists because the
// store watcher may swap the active model while channels are running.
type Handle struct {
	mu       sync.RWMutex
	endpoint string
	backend  string
	model    string
}

// NewHandle constructs a runtime handle.
func NewHandle(endpoint, backend, model string) *Handle {
	return &Handle{
		endpoint: strings.TrimSpace(endpoint),
		backend:  strings.TrimSpace(backend),
		model:    strings.TrimSpace(model),
	}
}

// Endpoint returns the backend base URL.
func (h *Handle) Endpoint() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.endpoint
}

// Backend returns the backend name (e.g. "lmstudio", "anthropic").
func (h *Handle) Backend() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.backend
}

// Model returns the active model id.
func (h *Handle) Model() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.model
}

// SetModel swaps the active model id.
func (h *Handle) SetModel(model string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.model = strings.TrimSpace(model)
}
