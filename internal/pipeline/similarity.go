package pipeline

import (
	"context"
	"time"
)

// SimilarityChecker compares a draft body against competitor pages.
type SimilarityChecker interface {
	Check(ctx context.Context, body string, urls []string) (map[string]any, error)
}

// StubSimilarity always passes. It keeps the review notes shape stable until
// a real text-similarity engine is plugged in.
type StubSimilarity struct {
	Now func() time.Time
}

func (s StubSimilarity) Check(_ context.Context, _ string, urls []string) (map[string]any, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return map[string]any{
		"similarity_score": 0.0,
		"status":           "pass",
		"checked_urls":     len(urls),
		"timestamp":        now().UTC().Format(time.RFC3339),
		"note":             "similarity check is a stub and always passes",
	}, nil
}
