// Package dedup remembers which messages were already dispatched so that a
// message re-delivered after a reconnect or restart is printed only once.
package dedup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultLimit is the number of keys kept when no limit is given.
const DefaultLimit = 10000

// Tracker is a bounded set of message keys persisted as one key per line.
// When the file grows past twice the limit it is rewritten with the newest
// keys only.
type Tracker struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	limit int
	file  string
}

// NewTracker loads (or creates) a tracker backed by filePath. limit <= 0
// selects DefaultLimit.
func NewTracker(filePath string, limit int) (*Tracker, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create dedup dir: %w", err)
	}

	t := &Tracker{
		ids:   make(map[string]struct{}),
		limit: limit,
		file:  filePath,
	}

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("open dedup file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, ok := t.ids[line]; ok {
			continue
		}
		t.ids[line] = struct{}{}
		t.order = append(t.order, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dedup file: %w", err)
	}
	t.evict()

	return t, nil
}

// Seen reports whether id was marked before.
func (t *Tracker) Seen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// MarkSeen adds an ID and persists it to disk.
func (t *Tracker) MarkSeen(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.ids[id]; exists {
		return nil
	}
	t.ids[id] = struct{}{}
	t.order = append(t.order, id)

	if len(t.order) > 2*t.limit {
		t.evict()
		return t.rewrite()
	}

	f, err := os.OpenFile(t.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open dedup file for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, id); err != nil {
		return fmt.Errorf("write dedup id: %w", err)
	}
	return nil
}

// Count returns the number of tracked IDs.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

// evict drops the oldest keys beyond the limit.
func (t *Tracker) evict() {
	if len(t.order) <= t.limit {
		return
	}
	drop := len(t.order) - t.limit
	for _, id := range t.order[:drop] {
		delete(t.ids, id)
	}
	t.order = append([]string(nil), t.order[drop:]...)
}

func (t *Tracker) rewrite() error {
	tmp := t.file + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create dedup file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, id := range t.order {
		fmt.Fprintln(w, id)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write dedup file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close dedup file: %w", err)
	}
	if err := os.Rename(tmp, t.file); err != nil {
		return fmt.Errorf("replace dedup file: %w", err)
	}
	return nil
}
