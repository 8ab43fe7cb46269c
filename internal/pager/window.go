// Package pager manages windowed and incremental retrieval of large
// per-phase result sets (e.g. generated domains). A Window tracks one
// (campaign, phase) view over a server-side paged set; page contents are
// replaceable cache supplied by the data-fetch collaborator, never
// authoritative state.
package pager

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"flowctl/internal/logging"
	"flowctl/internal/pipeline"
)

// Page is one fetched page of a phase's result set.
type Page struct {
	Items []json.RawMessage `json:"items"`
	Total int               `json:"total"`
}

// Fetcher is the data-fetch collaborator.
type Fetcher interface {
	FetchPage(ctx context.Context, campaignID string, phase pipeline.PhaseKey, page, pageSize int) (Page, error)
}

// Window is a per (campaign, phase) view-window over a paged result set.
// In finite mode navigation replaces the visible items with the fetched
// page. In infinite mode Next appends pages into one growing list that only
// shrinks on an explicit reset.
type Window struct {
	fetcher    Fetcher
	campaignID string
	phase      pipeline.PhaseKey

	mu       sync.Mutex
	page     int
	pageSize int
	total    int
	fetched  bool
	items    []json.RawMessage
	infinite bool
	truncate bool // leaving infinite mode: collapse to current page on next fetch
}

// NewWindow creates a window positioned at page 1.
func NewWindow(fetcher Fetcher, campaignID string, phase pipeline.PhaseKey, pageSize int) *Window {
	if pageSize < 1 {
		pageSize = 1
	}
	return &Window{
		fetcher:    fetcher,
		campaignID: campaignID,
		phase:      phase,
		page:       1,
		pageSize:   pageSize,
	}
}

// Accessors. Items returns a copy of the visible sequence.

func (w *Window) Page() int { w.mu.Lock(); defer w.mu.Unlock(); return w.page }

func (w *Window) PageSize() int { w.mu.Lock(); defer w.mu.Unlock(); return w.pageSize }

func (w *Window) Total() int { w.mu.Lock(); defer w.mu.Unlock(); return w.total }

func (w *Window) Infinite() bool { w.mu.Lock(); defer w.mu.Unlock(); return w.infinite }

func (w *Window) Items() []json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]json.RawMessage(nil), w.items...)
}

func lastPage(total, pageSize int) int {
	if total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// Load performs the initial fetch of the current page.
func (w *Window) Load(ctx context.Context) error {
	w.mu.Lock()
	page := w.page
	w.mu.Unlock()
	return w.fetchInto(ctx, page, false)
}

// GoToPage navigates to page n in finite mode. Out-of-range targets are
// no-ops, as is any jump while accumulating in infinite mode.
func (w *Window) GoToPage(ctx context.Context, n int) error {
	w.mu.Lock()
	if w.infinite {
		w.mu.Unlock()
		logging.PagerDebug("campaign %s phase %s: goToPage(%d) ignored in infinite mode",
			w.campaignID, w.phase, n)
		return nil
	}
	if n < 1 || (w.fetched && n > lastPage(w.total, w.pageSize)) {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	return w.fetchInto(ctx, n, false)
}

// Next advances one page. Beyond the last page it is a no-op. In infinite
// mode the fetched page is appended instead of replacing the view.
func (w *Window) Next(ctx context.Context) error {
	w.mu.Lock()
	if w.fetched && w.page >= lastPage(w.total, w.pageSize) {
		w.mu.Unlock()
		return nil
	}
	target := w.page + 1
	if !w.fetched {
		target = w.page
	}
	infinite := w.infinite
	w.mu.Unlock()
	return w.fetchInto(ctx, target, infinite)
}

// Prev steps back one page. Below page 1 it is a no-op; while accumulating
// in infinite mode it is also a no-op.
func (w *Window) Prev(ctx context.Context) error {
	w.mu.Lock()
	if w.infinite {
		w.mu.Unlock()
		logging.PagerDebug("campaign %s phase %s: prev ignored in infinite mode",
			w.campaignID, w.phase)
		return nil
	}
	if w.page <= 1 {
		w.mu.Unlock()
		return nil
	}
	target := w.page - 1
	w.mu.Unlock()
	return w.fetchInto(ctx, target, false)
}

// Last jumps to the final page in finite mode.
func (w *Window) Last(ctx context.Context) error {
	w.mu.Lock()
	if w.infinite {
		w.mu.Unlock()
		return nil
	}
	target := lastPage(w.total, w.pageSize)
	w.mu.Unlock()
	return w.fetchInto(ctx, target, false)
}

// ToggleInfinite switches accumulation on or off. Turning it on keeps the
// already-visible items; turning it off truncates back to the single
// current page on the next fetch.
func (w *Window) ToggleInfinite(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.infinite == enabled {
		return
	}
	w.infinite = enabled
	if enabled {
		// A pending truncate from an earlier toggle-off must not survive:
		// while accumulating, the visible list only grows.
		w.truncate = false
	} else {
		w.truncate = true
	}
	logging.Pager("campaign %s phase %s infinite=%v", w.campaignID, w.phase, enabled)
}

// Invalidate refetches every currently materialized page instead of
// trusting accumulated counts. Used after a counters_reconciled event. In
// infinite mode pages 1..current are refetched concurrently and stitched
// back together in page order; in finite mode the current page is reloaded.
func (w *Window) Invalidate(ctx context.Context) error {
	w.mu.Lock()
	if !w.fetched {
		w.mu.Unlock()
		return nil
	}
	infinite := w.infinite
	page := w.page
	pageSize := w.pageSize
	w.mu.Unlock()

	logging.Pager("campaign %s phase %s invalidated (page=%d infinite=%v)",
		w.campaignID, w.phase, page, infinite)

	if !infinite {
		return w.fetchInto(ctx, page, false)
	}

	pages := make([]Page, page)
	g, gctx := errgroup.WithContext(ctx)
	for n := 1; n <= page; n++ {
		g.Go(func() error {
			p, err := w.fetcher.FetchPage(gctx, w.campaignID, w.phase, n, pageSize)
			if err != nil {
				return err
			}
			pages[n-1] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &pipeline.NetworkError{Op: "refetch pages", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = w.items[:0]
	for _, p := range pages {
		w.items = append(w.items, p.Items...)
	}
	w.total = pages[len(pages)-1].Total
	if w.page > lastPage(w.total, w.pageSize) {
		w.page = lastPage(w.total, w.pageSize)
	}
	return nil
}

// fetchInto retrieves one page and folds it into the window. The fetch is a
// boundary call done without the lock; the window mutation is atomic.
func (w *Window) fetchInto(ctx context.Context, page int, appendItems bool) error {
	p, err := w.fetcher.FetchPage(ctx, w.campaignID, w.phase, page, w.pageSize)
	if err != nil {
		return &pipeline.NetworkError{Op: "fetch page", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.total = p.Total
	w.fetched = true
	if p.Total == 0 {
		// Empty, stable window: page pinned at 1.
		w.page = 1
		w.items = nil
		w.truncate = false
		return nil
	}
	if page > lastPage(p.Total, w.pageSize) {
		page = lastPage(p.Total, w.pageSize)
	}
	w.page = page
	if appendItems && !w.truncate {
		w.items = append(w.items, p.Items...)
	} else {
		w.items = append([]json.RawMessage(nil), p.Items...)
		w.truncate = false
	}
	logging.PagerDebug("campaign %s phase %s page=%d/%d items=%d",
		w.campaignID, w.phase, w.page, lastPage(w.total, w.pageSize), len(w.items))
	return nil
}
