package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"flowctl/internal/logging"
	"flowctl/internal/reconcile"
)

// streamLine is one NDJSON record on an event feed. A campaign_id field, if
// present, scopes the event; records without one are assumed to belong to
// the subscribed campaign.
type streamLine struct {
	CampaignID string          `json:"campaign_id,omitempty"`
	Kind       string          `json:"event"`
	Data       json.RawMessage `json:"data"`
}

// ReaderSource decodes newline-delimited JSON events from a reader. The
// transport that produced the bytes is someone else's problem; this is only
// the consumption contract. A ReaderSource is single-use: the sequence is
// non-restartable, so a second Subscribe fails.
type ReaderSource struct {
	mu   sync.Mutex
	r    io.Reader
	used bool
}

// NewReaderSource wraps r as an event source.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// Subscribe implements reconcile.Subscriber. The channel closes on EOF,
// decode-fatal conditions, or ctx cancellation.
func (s *ReaderSource) Subscribe(ctx context.Context, campaignID string) (<-chan reconcile.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used {
		return nil, fmt.Errorf("reader source already consumed")
	}
	s.used = true

	ch := make(chan reconcile.Event)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var rec streamLine
			if err := json.Unmarshal(line, &rec); err != nil {
				logging.APIDebug("skipping malformed event line: %v", err)
				continue
			}
			if rec.CampaignID != "" && rec.CampaignID != campaignID {
				continue
			}
			select {
			case ch <- reconcile.Event{Kind: rec.Kind, Data: rec.Data}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logging.API("event feed read error: %v", err)
		}
	}()
	return ch, nil
}
