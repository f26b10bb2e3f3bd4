package parse

import (
	"bytes"
	"fmt"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"

	"readrss/internal/model"
)

// Error means neither syndication format could decode the document. It
// carries the RSS (primary format) cause: when both decoders fail, the RSS
// error is surfaced for compatibility even if the Atom error might be more
// diagnostic for an Atom-only feed.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("feed parsing error: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Parser decodes raw feed bytes into normalized entries, trying the RSS
// channel/item schema first and falling back to the Atom feed/entry schema
// on the same bytes. HTML-bearing fields are sanitized before entries leave
// the parser.
type Parser struct {
	rss       *rss.Parser
	atom      *atom.Parser
	sanitizer *bluemonday.Policy
	// now is the clock for entries without a parseable publish time;
	// swappable in tests.
	now func() time.Time
}

func New() *Parser {
	return &Parser{
		rss:       &rss.Parser{},
		atom:      &atom.Parser{},
		sanitizer: bluemonday.UGCPolicy(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Parse decodes data into entries stamped with feedID. Entries missing a
// publish timestamp get the current time so cache ordering stays
// well-defined.
func (p *Parser) Parse(data []byte, feedID string) ([]model.FeedEntry, error) {
	rssFeed, rssErr := p.rss.Parse(bytes.NewReader(data))
	if rssErr == nil {
		entries := make([]model.FeedEntry, 0, len(rssFeed.Items))
		for _, item := range rssFeed.Items {
			entries = append(entries, p.fromRSSItem(feedID, item))
		}
		return entries, nil
	}

	atomFeed, atomErr := p.atom.Parse(bytes.NewReader(data))
	if atomErr != nil {
		return nil, &Error{Err: rssErr}
	}
	entries := make([]model.FeedEntry, 0, len(atomFeed.Entries))
	for _, entry := range atomFeed.Entries {
		entries = append(entries, p.fromAtomEntry(feedID, entry))
	}
	return entries, nil
}

func (p *Parser) fromRSSItem(feedID string, item *rss.Item) model.FeedEntry {
	e := model.FeedEntry{
		FeedID:  feedID,
		Title:   item.Title,
		Summary: p.sanitize(item.Description),
		URL:     item.Link,
	}

	if item.GUID != nil {
		e.GUID = item.GUID.Value
	}
	if item.PubDateParsed != nil {
		e.PublishedAt = item.PubDateParsed.UTC()
	} else {
		e.PublishedAt = p.now()
	}

	// dc:creator is preferred over the plain author byline.
	if dc := item.DublinCoreExt; dc != nil && len(dc.Creator) > 0 {
		e.Author = dc.Creator[0]
	} else {
		e.Author = item.Author
	}

	// An explicit category beats a dc:subject.
	if len(item.Categories) > 0 {
		e.Category = item.Categories[0].Value
	} else if dc := item.DublinCoreExt; dc != nil && len(dc.Subject) > 0 {
		e.Category = dc.Subject[0]
	}

	if html := contentEncoded(item.Extensions); html != "" {
		e.ContentHTML = p.sanitize(html)
	}
	if item.Enclosure != nil {
		e.ImageURL = item.Enclosure.URL
	}
	return e
}

func (p *Parser) fromAtomEntry(feedID string, entry *atom.Entry) model.FeedEntry {
	e := model.FeedEntry{
		FeedID:  feedID,
		Title:   entry.Title,
		Summary: p.sanitize(entry.Summary),
		GUID:    entry.ID,
	}

	switch {
	case entry.PublishedParsed != nil:
		e.PublishedAt = entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		e.PublishedAt = entry.UpdatedParsed.UTC()
	default:
		e.PublishedAt = p.now()
	}

	if len(entry.Authors) > 0 {
		e.Author = entry.Authors[0].Name
	}
	if len(entry.Categories) > 0 {
		e.Category = entry.Categories[0].Term
	}
	if len(entry.Links) > 0 {
		e.URL = entry.Links[0].Href
	}
	if entry.Content != nil && entry.Content.Value != "" {
		e.ContentHTML = p.sanitize(entry.Content.Value)
	}
	return e
}

func contentEncoded(exts ext.Extensions) string {
	values, ok := exts["content"]
	if !ok {
		return ""
	}
	encoded, ok := values["encoded"]
	if !ok || len(encoded) == 0 {
		return ""
	}
	return encoded[0].Value
}

func (p *Parser) sanitize(html string) string {
	if html == "" {
		return ""
	}
	return p.sanitizer.Sanitize(html)
}
