package store

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"readrss/internal/model"
)

// maxArticlesPerFeed caps each feed's cache; the oldest entries beyond the
// cap are evicted after every merge.
const maxArticlesPerFeed = 300

const (
	feedsFile    = "feeds.json"
	articlesFile = "articles.json"
	readFile     = "read.json"
)

type flagData struct {
	Read    []string `json:"read"`
	Starred []string `json:"starred,omitempty"`
}

// DataStore owns the feed list, the per-feed article caches and the
// read/star flags. It is the only writer of their backing files; every
// mutation is persisted with a temp-file write plus rename before the call
// returns. Readers and writers serialize on a single RWMutex, which is never
// held across network I/O.
type DataStore struct {
	mu       sync.RWMutex
	feeds    []model.Feed
	articles map[string][]model.FeedEntry
	read     map[string]struct{}
	starred  map[string]struct{}
	dir      string // empty for in-memory stores
}

// NewDataStore loads the persisted state from dir, tolerating missing files
// (first run) and corrupt ones (temp-file fallback).
func NewDataStore(dir string) *DataStore {
	s := &DataStore{
		articles: make(map[string][]model.FeedEntry),
		read:     make(map[string]struct{}),
		starred:  make(map[string]struct{}),
		dir:      dir,
	}
	loadJSONFile(filepath.Join(dir, feedsFile), &s.feeds)
	loadJSONFile(filepath.Join(dir, articlesFile), &s.articles)
	if s.articles == nil {
		s.articles = make(map[string][]model.FeedEntry)
	}
	var flags flagData
	loadJSONFile(filepath.Join(dir, readFile), &flags)
	for _, id := range flags.Read {
		s.read[id] = struct{}{}
	}
	for _, id := range flags.Starred {
		s.starred[id] = struct{}{}
	}
	return s
}

// NewMemoryDataStore returns a store that never touches disk, for tests.
func NewMemoryDataStore() *DataStore {
	return &DataStore{
		articles: make(map[string][]model.FeedEntry),
		read:     make(map[string]struct{}),
		starred:  make(map[string]struct{}),
	}
}

// AddFeed registers a feed, assigning an id when the descriptor carries
// none. A feed with the same id replaces the existing descriptor.
func (s *DataStore) AddFeed(feed model.Feed) (model.Feed, error) {
	if feed.URL == "" {
		return model.Feed{}, fmt.Errorf("add feed: empty url")
	}
	if feed.ID == "" {
		feed.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.feeds[:0]
	for _, existing := range s.feeds {
		if existing.ID != feed.ID {
			kept = append(kept, existing)
		}
	}
	s.feeds = append(kept, feed)
	if err := s.persistFeedsLocked(); err != nil {
		return model.Feed{}, err
	}
	return feed, nil
}

// RemoveFeed deletes a feed, its article cache and the flags of its cached
// entries. Removing an unknown id is a no-op.
func (s *DataStore) RemoveFeed(feedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.feeds[:0]
	for _, existing := range s.feeds {
		if existing.ID != feedID {
			kept = append(kept, existing)
		}
	}
	s.feeds = kept

	for _, e := range s.articles[feedID] {
		id := e.Identity()
		delete(s.read, id)
		delete(s.starred, id)
	}
	delete(s.articles, feedID)

	if err := s.persistFeedsLocked(); err != nil {
		return err
	}
	if err := s.persistArticlesLocked(); err != nil {
		return err
	}
	return s.persistFlagsLocked()
}

// ListFeeds returns a point-in-time copy of the feed list.
func (s *DataStore) ListFeeds() []model.Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Feed, len(s.feeds))
	copy(out, s.feeds)
	return out
}

// UpsertArticles merges entries into the feed's cache. Entries whose
// identity is already cached are skipped, the merged cache is sorted by
// publish time descending and truncated to capacity, and the result is
// persisted. Concurrent readers never observe a partially merged cache.
func (s *DataStore) UpsertArticles(feedID string, entries []model.FeedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.articles[feedID]
	existing := make(map[string]struct{}, len(slot))
	for _, e := range slot {
		existing[e.Identity()] = struct{}{}
	}
	for _, e := range entries {
		id := e.Identity()
		if _, dup := existing[id]; dup {
			continue
		}
		existing[id] = struct{}{}
		slot = append(slot, e)
	}
	sort.SliceStable(slot, func(i, j int) bool {
		return slot[i].PublishedAt.After(slot[j].PublishedAt)
	})
	if len(slot) > maxArticlesPerFeed {
		slot = slot[:maxArticlesPerFeed]
	}
	s.articles[feedID] = slot

	return s.persistArticlesLocked()
}

// Articles returns a copy of the feed's cached entries, newest first.
func (s *DataStore) Articles(feedID string) []model.FeedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot := s.articles[feedID]
	out := make([]model.FeedEntry, len(slot))
	copy(out, slot)
	return out
}

// MarkRead records an entry identity as read.
func (s *DataStore) MarkRead(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.read[identity]; ok {
		return nil
	}
	s.read[identity] = struct{}{}
	return s.persistFlagsLocked()
}

// IsRead reports whether an entry identity has been marked read.
func (s *DataStore) IsRead(identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.read[identity]
	return ok
}

// SetStarred stars or unstars an entry identity.
func (s *DataStore) SetStarred(identity string, starred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.starred[identity]; ok == starred {
		return nil
	}
	if starred {
		s.starred[identity] = struct{}{}
	} else {
		delete(s.starred, identity)
	}
	return s.persistFlagsLocked()
}

// IsStarred reports whether an entry identity is starred.
func (s *DataStore) IsStarred(identity string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.starred[identity]
	return ok
}

func (s *DataStore) persistFeedsLocked() error {
	if s.dir == "" {
		return nil
	}
	feeds := s.feeds
	if feeds == nil {
		feeds = []model.Feed{}
	}
	return saveJSONFile(filepath.Join(s.dir, feedsFile), feeds)
}

func (s *DataStore) persistArticlesLocked() error {
	if s.dir == "" {
		return nil
	}
	return saveJSONFile(filepath.Join(s.dir, articlesFile), s.articles)
}

func (s *DataStore) persistFlagsLocked() error {
	if s.dir == "" {
		return nil
	}
	flags := flagData{Read: make([]string, 0, len(s.read)), Starred: make([]string, 0, len(s.starred))}
	for id := range s.read {
		flags.Read = append(flags.Read, id)
	}
	for id := range s.starred {
		flags.Starred = append(flags.Starred, id)
	}
	sort.Strings(flags.Read)
	sort.Strings(flags.Starred)
	return saveJSONFile(filepath.Join(s.dir, readFile), flags)
}
