// Package content turns draft markdown into publishable output: slugs, safe
// HTML, excerpts and heading outlines.
package content

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var policy = bluemonday.UGCPolicy()

var title = cases.Title(language.English)

// Slugify lowercases s, strips accents and joins words with hyphens.
func Slugify(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// TitleCase capitalises each word of s.
func TitleCase(s string) string {
	return title.String(strings.TrimSpace(s))
}

// Render converts markdown to sanitised HTML.
func Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// PlainText extracts readable text from rendered HTML.
func PlainText(html string) string {
	base, _ := url.Parse("https://localhost/")
	article, err := readability.FromReader(strings.NewReader(wrapDocument(html)), base)
	if err == nil {
		if text := strings.TrimSpace(article.TextContent); text != "" {
			return text
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

// Excerpt returns the first maxWords words of the article text, with an
// ellipsis when it was shortened. The leading title heading is skipped.
func Excerpt(html string, maxWords int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		doc.Find("h1").First().Remove()
		if h, err := doc.Find("body").Html(); err == nil {
			html = h
		}
	}

	words := strings.Fields(PlainText(html))
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "…"
}

// WordCount counts whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Headings returns the text of every h2 and h3 in html, in document order.
func Headings(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("h2, h3").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// HeadingCoverage is the fraction of expected headings that appear in html,
// compared case-insensitively. It is 1 when nothing is expected.
func HeadingCoverage(expected []string, html string) float64 {
	if len(expected) == 0 {
		return 1
	}
	present := make(map[string]bool)
	for _, h := range Headings(html) {
		present[normalizeHeading(h)] = true
	}
	found := 0
	for _, h := range expected {
		if present[normalizeHeading(h)] {
			found++
		}
	}
	return float64(found) / float64(len(expected))
}

func normalizeHeading(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimRight(s, "?!.:"))), " ")
}

func wrapDocument(body string) string {
	return "<html><head><title></title></head><body><article>" + body + "</article></body></html>"
}
