package model

import (
	"fmt"
	"time"
)

// FeedEntry is one normalized feed item. Entries are immutable after the
// parser builds them; read/star status lives in the data store, keyed by
// Identity, so cached entries never need in-place rewriting.
type FeedEntry struct {
	FeedID      string    `json:"feed_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	ContentHTML string    `json:"content_html,omitempty"`
	URL         string    `json:"url"`
	Author      string    `json:"author,omitempty"`
	Category    string    `json:"category,omitempty"`
	GUID        string    `json:"guid,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	ImageURL    string    `json:"image_url,omitempty"`
}

// Identity returns the deduplication key for the entry: the GUID when the
// feed provides one, else the item URL, else the title pinned to the publish
// timestamp. It is stable across repeated fetches of the same logical item
// and unique within one feed, not globally.
func (e FeedEntry) Identity() string {
	if e.GUID != "" {
		return "guid:" + e.GUID
	}
	if e.URL != "" {
		return "url:" + e.URL
	}
	var ts int64
	if !e.PublishedAt.IsZero() {
		ts = e.PublishedAt.Unix()
	}
	return fmt.Sprintf("title:%s@%d", e.Title, ts)
}
