package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"golang.org/x/text/encoding/charmap"
)

// NormalizeText turns a markup fragment into plain Latin-1 text. HTML tags
// are stripped, line breaks become newlines, blank lines are dropped, and
// characters ISO-8859-1 cannot represent are removed.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}

	text := s
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("br").ReplaceWithHtml("\n")
			doc.Find("p, div, li, tr").Each(func(_ int, sel *goquery.Selection) {
				sel.AppendHtml("\n")
			})
			text = doc.Text()
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if _, ok := charmap.ISO8859_1.EncodeRune(r); ok {
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\u00a0", " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// NormalizeRecord applies NormalizeText to every string value of rec,
// descending into nested maps and slices. The record is modified in place
// and returned.
func NormalizeRecord(rec core.Record) core.Record {
	for k, v := range rec {
		rec[k] = normalizeValue(v)
	}
	return rec
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return NormalizeText(t)
	case map[string]interface{}:
		for k, inner := range t {
			t[k] = normalizeValue(inner)
		}
		return t
	case core.Record:
		return NormalizeRecord(t)
	case []interface{}:
		for i, inner := range t {
			t[i] = normalizeValue(inner)
		}
		return t
	default:
		return v
	}
}
