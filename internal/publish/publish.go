// Package publish implements the human review actions: approving a draft
// into a published content item, rejecting it, and dismissing opportunities.
package publish

import (
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/content"
	"github.com/TobiSchelling/contentpilot/internal/database"
	"github.com/TobiSchelling/contentpilot/internal/lifecycle"
)

// ExcerptWords is the length of the excerpt stored with each item.
const ExcerptWords = 40

// Indexer receives every newly published item.
type Indexer interface {
	Add(item *database.ContentItem) error
}

// Publisher runs review actions against the database.
type Publisher struct {
	db           *database.DB
	index        Indexer
	authorCredit string
	now          func() time.Time
}

// New creates a publisher. index may be nil.
func New(db *database.DB, index Indexer, authorCredit string) *Publisher {
	return &Publisher{db: db, index: index, authorCredit: authorCredit, now: time.Now}
}

// Approve publishes a reviewed draft. The draft moves to approved, its
// content item is created with a unique slug, and the draft moves to
// published, all in one transaction; on error nothing changes. Approving an
// already approved draft finishes the publication.
func (p *Publisher) Approve(draftID int64) (*database.ContentItem, error) {
	d, err := p.db.GetDraft(draftID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("draft %d: %w", draftID, database.ErrNotFound)
	}
	if !d.Status.Approvable() {
		return nil, &lifecycle.TransitionError{Entity: "draft", From: string(d.Status), To: string(lifecycle.DraftApproved)}
	}

	html, err := content.Render(d.Body)
	if err != nil {
		return nil, err
	}

	item, err := p.db.PublishDraft(draftID, database.ContentItem{
		Slug:         content.Slugify(d.Title),
		BodyHTML:     html,
		Excerpt:      content.Excerpt(html, ExcerptWords),
		WordCount:    content.WordCount(content.PlainText(html)),
		AuthorCredit: p.authorCredit,
		PublishedAt:  p.now(),
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Published draft #%d as /%s", draftID, item.Slug)

	if p.index != nil {
		if err := p.index.Add(item); err != nil {
			log.Printf("Indexing %s for internal links failed: %v", item.Slug, err)
		}
	}
	return item, nil
}

// Reject marks a pending draft rejected and returns its opportunity to
// pending so it can be generated again.
func (p *Publisher) Reject(draftID int64) error {
	if err := p.db.RejectDraft(draftID); err != nil {
		return err
	}
	log.Printf("Rejected draft #%d", draftID)
	return nil
}

// Dismiss retires an opportunity for good.
func (p *Publisher) Dismiss(opportunityID int64) error {
	if err := p.db.MoveOpportunity(opportunityID, lifecycle.OpportunityDismissed); err != nil {
		return err
	}
	log.Printf("Dismissed opportunity #%d", opportunityID)
	return nil
}
