package poll_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"readrss/internal/config"
	"readrss/internal/fetch"
	"readrss/internal/model"
	"readrss/internal/parse"
	"readrss/internal/poll"
	"readrss/internal/store"
)

const rssItemA = `<item>
  <title>Item A</title>
  <link>https://example.com/a</link>
  <guid>guid-a</guid>
  <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
</item>`

const rssItemB = `<item>
  <title>Item B</title>
  <link>https://example.com/b</link>
  <guid>guid-b</guid>
  <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
</item>`

func rssDocument(items ...string) string {
	doc := `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Feed</title><link>https://example.com</link><description>d</description>`
	for _, item := range items {
		doc += item
	}
	return doc + `</channel></rss>`
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AllowInsecureLoopback = true
	cfg.RequestTimeout = 5 * time.Second
	cfg.MaxRetries = 1
	cfg.RetryBackoffBase = time.Millisecond
	cfg.PollInterval = 50 * time.Millisecond
	return cfg
}

func newTestPoller(cfg config.Config) (*poll.Poller, *store.DataStore, *store.SeenLedger) {
	data := store.NewMemoryDataStore()
	seen := store.NewMemorySeenLedger()
	p := poll.New(data, seen, fetch.New(cfg), parse.New(), cfg)
	return p, data, seen
}

func TestPollOnce_AnnouncesOnlyUnseenEntries(t *testing.T) {
	var phase atomic.Int32
	phase.Store(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if phase.Load() == 1 {
			fmt.Fprint(w, rssDocument(rssItemA))
			return
		}
		fmt.Fprint(w, rssDocument(rssItemA, rssItemB))
	}))
	defer srv.Close()

	p, data, _ := newTestPoller(testConfig())
	feeds := []model.Feed{{ID: "f1", Title: "Feed", URL: srv.URL}}

	events, err := p.PollOnce(context.Background(), feeds)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, events[0].Entries, 1)
	require.Equal(t, "Item A", events[0].Entries[0].Title)

	// Second pass: item A is already in the ledger, only B is announced.
	phase.Store(2)
	events, err = p.PollOnce(context.Background(), feeds)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "f1", events[0].FeedID)
	require.Len(t, events[0].Entries, 1)
	require.Equal(t, "Item B", events[0].Entries[0].Title)

	cached := data.Articles("f1")
	require.Len(t, cached, 2, "cache holds both items merged")
	require.Equal(t, "Item B", cached[0].Title, "sorted newest first")
	require.Equal(t, "Item A", cached[1].Title)
}

func TestPollOnce_NothingNewProducesNoEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDocument(rssItemA))
	}))
	defer srv.Close()

	p, _, _ := newTestPoller(testConfig())
	feeds := []model.Feed{{ID: "f1", URL: srv.URL}}

	events, err := p.PollOnce(context.Background(), feeds)
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = p.PollOnce(context.Background(), feeds)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestPollOnce_MalformedFeedDoesNotAbortBatch(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not a feed in any format")
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDocument(rssItemA))
	}))
	defer healthy.Close()

	p, _, _ := newTestPoller(testConfig())
	feeds := []model.Feed{
		{ID: "broken", URL: broken.URL},
		{ID: "healthy", URL: healthy.URL},
	}

	events, err := p.PollOnce(context.Background(), feeds)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "healthy", events[0].FeedID)
}

func TestPollOnce_SchemeRejectedFeedIsSkipped(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDocument(rssItemA))
	}))
	defer healthy.Close()

	p, _, _ := newTestPoller(testConfig())
	feeds := []model.Feed{
		{ID: "insecure", URL: "http://example.com/feed.xml"},
		{ID: "healthy", URL: healthy.URL},
	}

	events, err := p.PollOnce(context.Background(), feeds)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "healthy", events[0].FeedID)
}

func TestPoller_EmitsEventsAndStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDocument(rssItemA, rssItemB))
	}))
	defer srv.Close()

	p, data, _ := newTestPoller(testConfig())
	_, err := data.AddFeed(model.Feed{ID: "f1", Title: "Feed", URL: srv.URL})
	require.NoError(t, err)

	p.Start()

	select {
	case evt := <-p.Events():
		require.Equal(t, "f1", evt.FeedID)
		require.Len(t, evt.Entries, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	// Entries were persisted before the event was emitted.
	require.Len(t, data.Articles("f1"), 2)

	p.Stop()
	require.NoError(t, p.Err())

	// The events channel closes on termination.
	for {
		select {
		case _, ok := <-p.Events():
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("events channel not closed after stop")
		}
	}
}

func TestPoller_StorageFailureIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDocument(rssItemA))
	}))
	defer srv.Close()

	// A ledger whose directory component is a regular file cannot persist.
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0o644))

	cfg := testConfig()
	data := store.NewMemoryDataStore()
	seen := store.NewSeenLedger(filepath.Join(blocked, "seen.json"))
	p := poll.New(data, seen, fetch.New(cfg), parse.New(), cfg)
	_, err := data.AddFeed(model.Feed{ID: "f1", URL: srv.URL})
	require.NoError(t, err)

	p.Start()

	select {
	case _, ok := <-p.Events():
		require.False(t, ok, "events channel closes when storage becomes unwritable")
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not terminate")
	}
	require.Error(t, p.Err())
}

func TestPoller_StartAfterStopIsNoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDocument(rssItemA))
	}))
	defer srv.Close()

	p, data, _ := newTestPoller(testConfig())
	_, err := data.AddFeed(model.Feed{ID: "f1", URL: srv.URL})
	require.NoError(t, err)

	p.Start()
	select {
	case <-p.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	p.Stop()
	p.Stop() // repeated stop is harmless

	p.Start()
	_, ok := <-p.Events()
	require.False(t, ok, "stopped is terminal; a late start does not resurrect the poller")
	require.NoError(t, p.Err())
}

func TestPoller_RemoveFeedForgetsLedger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDocument(rssItemA))
	}))
	defer srv.Close()

	p, data, _ := newTestPoller(testConfig())
	feeds := []model.Feed{{ID: "f1", URL: srv.URL}}

	events, err := p.PollOnce(context.Background(), feeds)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, p.RemoveFeed("f1"))
	require.Empty(t, data.Articles("f1"))

	// Re-subscribing announces the same items again.
	events, err = p.PollOnce(context.Background(), feeds)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Item A", events[0].Entries[0].Title)
}

func TestPoller_ManualRefreshSharesLedgerWithScheduler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDocument(rssItemA))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.PollInterval = time.Hour // keep the scheduler to its immediate tick
	p, data, _ := newTestPoller(cfg)
	_, err := data.AddFeed(model.Feed{ID: "f1", URL: srv.URL})
	require.NoError(t, err)

	p.Start()
	select {
	case <-p.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	// A manual refresh after the scheduled tick sees everything as seen.
	events, err := p.PollOnce(context.Background(), data.ListFeeds())
	require.NoError(t, err)
	require.Empty(t, events)

	p.Stop()
	require.Len(t, data.Articles("f1"), 1, "no double-counting between tick and manual refresh")
}
