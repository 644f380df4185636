package series

import (
	"regexp"
	"strings"
)

var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpart\s*\d+`),
	regexp.MustCompile(`(?i)\bpt\.?\s*\d+`),
	regexp.MustCompile(`#\d+`),
	regexp.MustCompile(`(?i)\bvol(?:ume)?\.?\s*\d+`),
	regexp.MustCompile(`(?i)\bchapter\s*\d+`),
	regexp.MustCompile(`(?i)\b(?:first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|final|last)\s+(?:part|installment|instalment|chapter)\b`),
	regexp.MustCompile(`(?i)\bpart\s+(?:one|two|three|four|five|six|seven|eight|nine|ten|[ivx]+)\b`),
	regexp.MustCompile(`(?i)\b\d+(?:st|nd|rd|th)\s+(?:part|installment|instalment|episode|chapter)\b`),
	regexp.MustCompile(`第\s*[0-9一二三四五六七八九十百]+\s*(?:篇|部分|章|期|集|部)`),
	regexp.MustCompile(`(?i)\bseries\b`),
	regexp.MustCompile(`[（(]\s*[上中下]\s*[)）]`),
	regexp.MustCompile(`续|系列`),
}

// HasSequenceMarker reports whether a title reads like one installment of a
// sequence.
func HasSequenceMarker(title string) bool {
	for _, p := range titlePatterns {
		if p.MatchString(title) {
			return true
		}
	}
	return false
}

// BaseTitle strips sequence markers and trailing separators from a title so
// it can name the series.
func BaseTitle(title string) string {
	out := title
	for _, p := range titlePatterns {
		out = p.ReplaceAllString(out, "")
	}
	out = strings.Join(strings.Fields(out), " ")
	return strings.Trim(out, " :-–—,|()（）")
}
