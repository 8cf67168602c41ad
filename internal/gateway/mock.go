package gateway

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/contentpilot/internal/content"
	"github.com/TobiSchelling/contentpilot/internal/database"
)

// MockQualityScore is the score every draft receives in mock mode.
const MockQualityScore = 75

func mockBrief(opp *database.Opportunity) *BriefResult {
	q := opp.Query
	t := content.TitleCase(q)
	return &BriefResult{
		TargetKeyword: q,
		SearchIntent:  "informational",
		ContentAngle:  "Comprehensive educational guide targeting business customers",
		Structure: database.BriefStructure{
			Title: "The Complete Guide to " + t,
			Headings: []string{
				fmt.Sprintf("What is %s?", t),
				"Benefits of " + t,
				"How to Choose the Right " + t,
				"Common Mistakes to Avoid",
				"Expert Tips and Best Practices",
			},
			WordCountTarget: 1500,
			KeyPoints: []string{
				fmt.Sprintf("Define %s and its importance", q),
				"Explain environmental benefits",
				"Provide practical selection criteria",
				"Address common customer concerns",
				"Include product recommendations",
			},
			MetaDescription: fmt.Sprintf("Discover everything you need to know about %s. "+
				"Expert guide covering benefits, selection tips, and best practices for businesses.", q),
		},
		InternalLinks: []string{"related products", "category pages"},
	}
}

func mockArticle(brief *database.ContentBrief, siteName string) *ArticleResult {
	q := brief.TargetKeyword
	t := content.TitleCase(q)

	title := brief.Structure.Title
	if title == "" {
		title = "The Complete Guide to " + t
	}
	meta := brief.Structure.MetaDescription
	if meta == "" {
		meta = fmt.Sprintf("Discover everything you need to know about %s. "+
			"Expert guide covering benefits, selection tips, and best practices for businesses.", q)
	}
	metaTitle := t + " Guide | Sustainable Catering Supplies"
	if siteName != "" {
		metaTitle += " | " + siteName
	}

	return &ArticleResult{
		Title:           title,
		Body:            mockArticleBody(title, q, brief.Structure.Headings),
		MetaTitle:       metaTitle,
		MetaDescription: meta,
		TargetKeywords:  []string{q, "eco-friendly " + q, "sustainable " + q},
	}
}

// mockArticleBody writes one section per brief heading so the outline
// matches the plan.
func mockArticleBody(title, q string, headings []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "In today's environmentally conscious business landscape, choosing the right %s has never been "+
		"more important. This guide walks you through selecting, using, and benefiting from %s.\n\n", q, q)

	for _, h := range headings {
		fmt.Fprintf(&b, "## %s\n\n", h)
		fmt.Fprintf(&b, "When it comes to %s, businesses that plan ahead see the best results. "+
			"Consider material composition, certification standards, and how your customers will use "+
			"and dispose of each item.\n\n", q)
	}

	fmt.Fprintf(&b, "## Conclusion\n\nSwitching to %s is a practical step towards a more sustainable operation. "+
		"Start small, measure the impact, and expand as your customers respond.\n", q)
	return b.String()
}

func mockReview() *ReviewResult {
	return &ReviewResult{
		QualityScore: MockQualityScore,
		Notes: map[string]any{
			"strengths": []string{
				"Well-structured with clear headings",
				"Good keyword integration",
				"Comprehensive coverage of topic",
			},
			"improvements": []string{
				"Could add more specific product examples",
				"Consider adding statistics or data points",
				"Internal linking could be stronger",
			},
			"seo_score":         78,
			"readability_score": 72,
			"keyword_density":   "2.3%",
		},
	}
}
