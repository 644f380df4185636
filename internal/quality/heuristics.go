package quality

import (
	"fmt"
	"strings"

	"blogpilot/internal/core"
)

// StockPhrases are stock machine-writing phrases worth flagging to the
// rewriter. Matching is case-insensitive on plain text.
var StockPhrases = []string{
	"in today's fast-paced world",
	"in the ever-evolving",
	"it's important to note",
	"it is important to note",
	"delve into",
	"a testament to",
	"navigating the complexities",
	"game-changer",
	"in conclusion",
	"unlock the potential",
	"the world of",
	"plays a crucial role",
	"let's dive in",
}

// DetectStockPhrases counts and lists stock phrases in text.
func DetectStockPhrases(text string) (count int, found []string) {
	lower := strings.ToLower(text)
	for _, phrase := range StockPhrases {
		if n := strings.Count(lower, phrase); n > 0 {
			found = append(found, phrase)
			count += n
		}
	}
	return count, found
}

// StockPhraseIssues turns detected stock phrases into reviewer issues so the
// rewrite prompt names them explicitly.
func StockPhraseIssues(text string) []core.QualityIssue {
	count, found := DetectStockPhrases(text)
	if count == 0 {
		return nil
	}
	severity := "minor"
	if count > 3 {
		severity = "major"
	}
	return []core.QualityIssue{{
		Dimension:   "artificiality",
		Severity:    severity,
		Description: fmt.Sprintf("%d stock phrase(s): %s", count, strings.Join(found, "; ")),
		Suggestion:  "Replace them with concrete statements drawn from the source.",
	}}
}
