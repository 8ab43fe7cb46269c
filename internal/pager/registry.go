package pager

import (
	"context"
	"strings"
	"sync"

	"flowctl/internal/logging"
	"flowctl/internal/pipeline"
)

// Registry owns the windows materialized per (campaign, phase) and wires
// them to the reconciliation engine's cache invalidation: a
// "domains:<campaign>:<phase>" tag forces the matching window to refetch.
type Registry struct {
	fetcher Fetcher

	mu      sync.Mutex
	windows map[string]*Window
}

// NewRegistry creates a registry backed by one data-fetch collaborator.
func NewRegistry(fetcher Fetcher) *Registry {
	return &Registry{
		fetcher: fetcher,
		windows: make(map[string]*Window),
	}
}

func windowKey(campaignID string, phase pipeline.PhaseKey) string {
	return campaignID + "/" + string(phase)
}

// Window returns the window for a (campaign, phase), creating it on first
// reference with the given page size.
func (r *Registry) Window(campaignID string, phase pipeline.PhaseKey, pageSize int) *Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := windowKey(campaignID, phase)
	w, ok := r.windows[key]
	if !ok {
		w = NewWindow(r.fetcher, campaignID, phase, pageSize)
		r.windows[key] = w
	}
	return w
}

// Lookup returns an existing window without creating one.
func (r *Registry) Lookup(campaignID string, phase pipeline.PhaseKey) (*Window, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.windows[windowKey(campaignID, phase)]
	return w, ok
}

// InvalidateTags implements the reconciliation engine's cache sink for
// result-page tags. Tags for other caches are ignored here.
func (r *Registry) InvalidateTags(ctx context.Context, tags ...string) {
	for _, tag := range tags {
		rest, ok := strings.CutPrefix(tag, "domains:")
		if !ok {
			continue
		}
		campaignID, phase, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		w, found := r.Lookup(campaignID, pipeline.PhaseKey(phase))
		if !found {
			continue
		}
		if err := w.Invalidate(ctx); err != nil {
			logging.Pager("refetch after invalidation failed for %s/%s: %v", campaignID, phase, err)
		}
	}
}
