package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"readrss/internal/config"
	"readrss/internal/fetch"
	"readrss/internal/logger"
	"readrss/internal/model"
	"readrss/internal/parse"
	"readrss/internal/store"
)

// Event announces the newly discovered entries for one feed. By the time an
// event is emitted the entries are already durably persisted, so a slow or
// absent consumer can only delay display, never lose data.
type Event struct {
	FeedID  string
	Entries []model.FeedEntry
}

// eventBufferSize absorbs one tick's worth of per-feed events; the producer
// blocks rather than drops when the buffer fills.
const eventBufferSize = 64

// Poller drives the periodic fetch, parse, dedupe, persist, announce cycle
// across all followed feeds. Feeds within a tick are processed sequentially
// as a courtesy to slow or rate-limited servers; one feed's failure never
// affects the others. Stop is observed at tick boundaries, so the in-flight
// tick always completes.
type Poller struct {
	store   *store.DataStore
	seen    *store.SeenLedger
	fetcher *fetch.Fetcher
	parser  *parse.Parser
	cfg     config.Config

	events chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	err     error
}

func New(data *store.DataStore, seen *store.SeenLedger, fetcher *fetch.Fetcher, parser *parse.Parser, cfg config.Config) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	return &Poller{
		store:   data,
		seen:    seen,
		fetcher: fetcher,
		parser:  parser,
		cfg:     cfg,
		events:  make(chan Event, eventBufferSize),
		stopCh:  make(chan struct{}),
	}
}

// Events is the channel consumers subscribe to. It is closed when the
// poller terminates, whether by Stop or by a storage failure.
func (p *Poller) Events() <-chan Event {
	return p.events
}

// Start launches the polling loop: one immediate tick, then one per
// interval. Starting twice is a no-op, as is starting after Stop: stopped
// is a terminal state.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()
	logger.Info("poller started", "interval_ms", p.cfg.PollInterval.Milliseconds())
}

// Stop requests shutdown and waits for the in-flight tick to finish.
// Shutdown latency is bounded by one feed's fetch timeout times the retry
// count, not by the poll interval.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	logger.Info("poller stopped")
}

// Err returns the terminal error, non-nil only when the poller shut itself
// down because persistent storage became unwritable.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Poller) run() {
	defer p.wg.Done()
	defer close(p.events)

	if !p.tick() {
		return
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if !p.tick() {
				return
			}
			// A tick that overran the interval leaves a tick pending
			// in the channel; drop it so ticks never pile up.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// tick processes every feed in the current snapshot sequentially and
// reports whether the poller should keep running. Per-feed errors are
// logged and contained; only a storage write failure is terminal.
func (p *Poller) tick() bool {
	feeds := p.store.ListFeeds()
	for _, feed := range feeds {
		entries, err := p.pollFeed(context.Background(), feed)
		if err != nil {
			if isStorageErr(err) {
				logger.Error("storage unwritable, stopping poller", "feed", feed.URL, "error", err)
				p.setErr(err)
				return false
			}
			logger.Warn("failed to poll feed", "feed", feed.URL, "error", err)
			continue
		}
		if len(entries) == 0 {
			continue
		}
		select {
		case p.events <- Event{FeedID: feed.ID, Entries: entries}:
		case <-p.stopCh:
			// Consumer side is shutting down; the entries are already
			// persisted, only this notification is lost.
			return false
		}
	}
	return true
}

// pollFeed runs fetch, parse, dedupe and persist for one feed and returns
// the entries the seen ledger reported as new. Persist happens before the
// caller can announce anything; that ordering is load-bearing.
func (p *Poller) pollFeed(ctx context.Context, feed model.Feed) ([]model.FeedEntry, error) {
	data, err := p.fetcher.FetchWithRetries(ctx, feed.URL, p.cfg.MaxRetries, p.cfg.RetryBackoffBase)
	if err != nil {
		return nil, err
	}
	entries, err := p.parser.Parse(data, feed.ID)
	if err != nil {
		return nil, err
	}

	var fresh []model.FeedEntry
	for _, e := range entries {
		isNew, err := p.seen.IsNewAndMark(e)
		if err != nil {
			return nil, &storageError{err: err}
		}
		if isNew {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	if err := p.store.UpsertArticles(feed.ID, fresh); err != nil {
		return nil, &storageError{err: err}
	}
	return fresh, nil
}

// PollOnce runs a single synchronous pass over the given feeds, sharing the
// same ledger and store discipline as the scheduled loop so a manual
// refresh cannot race a concurrent tick into double-counting. It returns
// one event per feed that produced unseen entries and does not touch the
// event channel.
func (p *Poller) PollOnce(ctx context.Context, feeds []model.Feed) ([]Event, error) {
	var out []Event
	for _, feed := range feeds {
		entries, err := p.pollFeed(ctx, feed)
		if err != nil {
			if isStorageErr(err) {
				return out, err
			}
			logger.Warn("failed to poll feed", "feed", feed.URL, "error", err)
			continue
		}
		if len(entries) > 0 {
			out = append(out, Event{FeedID: feed.ID, Entries: entries})
		}
	}
	return out, nil
}

// RemoveFeed unfollows a feed: the store drops its descriptor, article
// cache and flags, and the seen ledger forgets it, so re-subscribing later
// announces from scratch.
func (p *Poller) RemoveFeed(feedID string) error {
	if err := p.store.RemoveFeed(feedID); err != nil {
		return err
	}
	return p.seen.Forget(feedID)
}

func (p *Poller) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// storageError marks ledger or store persistence failures, the only errors
// that terminate the poller instead of skipping a feed.
type storageError struct {
	err error
}

func (e *storageError) Error() string {
	return "storage error: " + e.err.Error()
}

func (e *storageError) Unwrap() error {
	return e.err
}

func isStorageErr(err error) bool {
	var se *storageError
	return errors.As(err, &se)
}
