package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"

	"flowctl/internal/logging"
	"flowctl/internal/reconcile"
)

// FileSource tails an NDJSON event file that another process appends to,
// emitting each appended record as an event. Unlike ReaderSource it is
// restartable: every Subscribe opens the file fresh and follows it until
// ctx ends, so the reconciliation engine's reconnect loop works against it.
type FileSource struct {
	path    string
	fromEnd bool // skip records already present at subscribe time
}

// NewFileSource creates a source over path. When fromEnd is true, only
// records appended after Subscribe are delivered.
func NewFileSource(path string, fromEnd bool) *FileSource {
	return &FileSource{path: path, fromEnd: fromEnd}
}

// Subscribe implements reconcile.Subscriber.
func (s *FileSource) Subscribe(ctx context.Context, campaignID string) (<-chan reconcile.Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open event file %s: %w", s.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		f.Close()
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", s.path, err)
	}

	if s.fromEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			watcher.Close()
			return nil, fmt.Errorf("seek event file: %w", err)
		}
	}

	ch := make(chan reconcile.Event)
	go func() {
		defer close(ch)
		defer f.Close()
		defer watcher.Close()

		reader := &tailReader{r: bufio.NewReader(f)}
		if !s.drain(ctx, reader, campaignID, ch) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
					logging.API("event file %s went away", s.path)
					return
				}
				if !ev.Op.Has(fsnotify.Write) {
					continue
				}
				if !s.drain(ctx, reader, campaignID, ch) {
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.API("event file watcher error: %v", err)
			}
		}
	}()
	return ch, nil
}

// tailReader yields complete lines, carrying a partially written trailing
// line across reads until the writer finishes it.
type tailReader struct {
	r       *bufio.Reader
	pending []byte
}

func (t *tailReader) nextLine() ([]byte, bool) {
	chunk, err := t.r.ReadBytes('\n')
	if err != nil {
		t.pending = append(t.pending, chunk...)
		return nil, false
	}
	line := append(t.pending, chunk...)
	t.pending = nil
	return line, true
}

// drain reads every complete line currently available and forwards the
// matching events. Returns false when ctx ended.
func (s *FileSource) drain(ctx context.Context, reader *tailReader, campaignID string, ch chan<- reconcile.Event) bool {
	for {
		line, ok := reader.nextLine()
		if !ok {
			return true
		}
		if len(line) <= 1 {
			continue
		}
		var rec streamLine
		if jerr := json.Unmarshal(line, &rec); jerr != nil {
			logging.APIDebug("skipping malformed event line in %s: %v", s.path, jerr)
			continue
		}
		if rec.CampaignID != "" && rec.CampaignID != campaignID {
			continue
		}
		select {
		case ch <- reconcile.Event{Kind: rec.Kind, Data: rec.Data}:
		case <-ctx.Done():
			return false
		}
	}
}
