package normalize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reBlockOpen  = regexp.MustCompile(`(?i)<(p|div|br|li|td|tr|h[1-6])\b`)
)

// PlainText strips markup from an HTML fragment and collapses whitespace.
// Strings without markup are returned trimmed.
func PlainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return reWhitespace.ReplaceAllString(strings.TrimSpace(fragment), " ")
	}

	// keep words in adjacent blocks apart
	spaced := reBlockOpen.ReplaceAllString(fragment, " <$1")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(spaced))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("script, style").Remove()

	text := reWhitespace.ReplaceAllString(doc.Text(), " ")
	return strings.TrimSpace(text)
}
