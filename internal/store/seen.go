package store

import (
	"sync"

	"readrss/internal/model"
)

// SeenLedger is the persistent "have I announced this before" gate. It maps
// feed id to the set of entry identities already surfaced, independent of
// read status. Presence means "must not be re-announced".
type SeenLedger struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
	path string // empty for in-memory ledgers
}

// NewSeenLedger loads the ledger persisted at path, or starts empty when the
// file is missing.
func NewSeenLedger(path string) *SeenLedger {
	l := &SeenLedger{
		seen: make(map[string]map[string]struct{}),
		path: path,
	}
	var raw map[string][]string
	loadJSONFile(path, &raw)
	for feedID, ids := range raw {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		l.seen[feedID] = set
	}
	return l
}

// NewMemorySeenLedger returns a ledger that never touches disk, for tests.
func NewMemorySeenLedger() *SeenLedger {
	return &SeenLedger{seen: make(map[string]map[string]struct{})}
}

// IsNewAndMark atomically checks whether the entry's identity has been seen
// for its feed and marks it if not. It returns true exactly once per
// identity. A successful mark is persisted before returning, so a "new"
// outcome survives a crash immediately after; if persistence fails the mark
// is rolled back and the error returned, leaving the entry announceable on a
// later attempt.
func (l *SeenLedger) IsNewAndMark(entry model.FeedEntry) (bool, error) {
	key := entry.Identity()

	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.seen[entry.FeedID]
	if !ok {
		set = make(map[string]struct{})
		l.seen[entry.FeedID] = set
	}
	if _, dup := set[key]; dup {
		return false, nil
	}
	set[key] = struct{}{}
	if err := l.persistLocked(); err != nil {
		delete(set, key)
		return false, err
	}
	return true, nil
}

// Forget drops the ledger state for a removed feed.
func (l *SeenLedger) Forget(feedID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[feedID]; !ok {
		return nil
	}
	delete(l.seen, feedID)
	return l.persistLocked()
}

func (l *SeenLedger) persistLocked() error {
	if l.path == "" {
		return nil
	}
	raw := make(map[string][]string, len(l.seen))
	for feedID, set := range l.seen {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		raw[feedID] = ids
	}
	return saveJSONFile(l.path, raw)
}
