// Package ingestion normalizes raw transcript payloads into plain text
// before chunking. Transcripts arrive in whatever shape the upstream
// export produced: plain text, HTML player exports, or WebVTT/SRT
// caption files.
package ingestion

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespaceRe = regexp.MustCompile(`[ \t]+`)
	cueArrowRe   = regexp.MustCompile(`-->\s`)
	cueIndexRe   = regexp.MustCompile(`^\d+$`)
	voiceTagRe   = regexp.MustCompile(`</?v[^>]*>`)
	htmlOpenRe   = regexp.MustCompile(`(?i)<(html|body|div|p|span|br)\b`)
)

// Normalize converts a raw transcript payload into the canonical plain
// text that chunk offsets refer to.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	switch {
	case isCaptionFile(trimmed):
		return stripCues(trimmed)
	case htmlOpenRe.MatchString(trimmed):
		return stripHTML(trimmed)
	default:
		return collapse(trimmed)
	}
}

func isCaptionFile(text string) bool {
	if strings.HasPrefix(text, "WEBVTT") {
		return true
	}
	// SRT files open with a cue index followed by a timing line.
	lines := strings.SplitN(text, "\n", 3)
	return len(lines) >= 2 && cueIndexRe.MatchString(strings.TrimSpace(lines[0])) && cueArrowRe.MatchString(lines[1])
}

func stripCues(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "WEBVTT" {
			continue
		}
		if cueArrowRe.MatchString(line) || cueIndexRe.MatchString(line) {
			continue
		}
		if strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION") {
			continue
		}
		line = voiceTagRe.ReplaceAllString(line, "")
		kept = append(kept, strings.TrimSpace(line))
	}
	return collapse(strings.Join(kept, " "))
}

func stripHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapse(html)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return collapse(doc.Find("body").Text())
}

func collapse(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}
