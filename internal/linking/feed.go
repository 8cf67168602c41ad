package linking

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/contentpilot/internal/content"
	"github.com/TobiSchelling/contentpilot/internal/database"
)

const maxFeedEntries = 200

// ImportFeed indexes the entries of the site's existing blog feed so briefs
// can also link to pages that were published by hand. The slug of an entry
// is its URL path. It returns the number of entries indexed.
func (i *Index) ImportFeed(ctx context.Context, feedURL string) (int, error) {
	feed, err := gofeed.NewParser().ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return 0, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}

	var items []database.ContentItem
	for _, entry := range feed.Items {
		if len(items) >= maxFeedEntries {
			break
		}
		item := feedItem(entry)
		if item == nil {
			continue
		}
		items = append(items, *item)
	}
	if err := i.Load(items); err != nil {
		return 0, err
	}
	log.Printf("Indexed %d existing pages from %s", len(items), feedURL)
	return len(items), nil
}

func feedItem(entry *gofeed.Item) *database.ContentItem {
	link := entry.Link
	if link == "" {
		link = entry.GUID
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil
	}
	slug := strings.Trim(u.Path, "/")
	title := strings.TrimSpace(entry.Title)
	if slug == "" || title == "" {
		return nil
	}

	body := entry.Content
	if body == "" {
		body = entry.Description
	}
	return &database.ContentItem{
		Slug:           slug,
		Title:          title,
		Body:           content.PlainText(body),
		TargetKeywords: entry.Categories,
	}
}
