// Package linking keeps a full-text index of published content so new briefs
// can suggest internal links to existing pages.
package linking

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/TobiSchelling/contentpilot/internal/database"
)

// Index wraps an in-memory Bleve index of content items.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

// indexedItem is the document stored for each content item.
type indexedItem struct {
	Slug     string
	Title    string
	Body     string
	Keywords string
}

// New creates an empty in-memory index.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create link index: %w", err)
	}
	return &Index{index: idx}, nil
}

// buildIndexMapping stems titles and keywords with the English analyzer.
func buildIndexMapping() mapping.IndexMapping {
	english := bleve.NewTextFieldMapping()
	english.Analyzer = "en"

	body := bleve.NewTextFieldMapping()
	body.Store = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("Slug", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("Title", english)
	docMapping.AddFieldMappingsAt("Keywords", english)
	docMapping.AddFieldMappingsAt("Body", body)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Close releases the index.
func (i *Index) Close() error {
	return i.index.Close()
}

// Add indexes or replaces a content item.
func (i *Index) Add(item *database.ContentItem) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Index(item.Slug, toDocument(item))
}

// Load indexes every item in one batch.
func (i *Index) Load(items []database.ContentItem) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.index.NewBatch()
	for n := range items {
		if err := batch.Index(items[n].Slug, toDocument(&items[n])); err != nil {
			return fmt.Errorf("batch index %s: %w", items[n].Slug, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed items.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Suggest returns up to limit published items relevant to text.
func (i *Index) Suggest(text string, limit int) ([]database.LinkSuggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" || limit <= 0 {
		return nil, nil
	}

	title := bleve.NewMatchQuery(text)
	title.SetField("Title")
	title.SetBoost(3)
	keywords := bleve.NewMatchQuery(text)
	keywords.SetField("Keywords")
	keywords.SetBoost(2)
	body := bleve.NewMatchQuery(text)
	body.SetField("Body")

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(title, keywords, body), limit, 0, false)
	req.Fields = []string{"Title"}

	i.mu.RLock()
	res, err := i.index.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var out []database.LinkSuggestion
	for _, hit := range res.Hits {
		s := database.LinkSuggestion{Slug: hit.ID, Score: hit.Score}
		if t, ok := hit.Fields["Title"].(string); ok {
			s.Title = t
		}
		out = append(out, s)
	}
	return out, nil
}

func toDocument(item *database.ContentItem) indexedItem {
	return indexedItem{
		Slug:     item.Slug,
		Title:    item.Title,
		Body:     item.Body,
		Keywords: strings.Join(item.TargetKeywords, " "),
	}
}
