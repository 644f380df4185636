package writer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var codeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// DecodeJSON unmarshals a model response into out. It accepts bare JSON, JSON
// inside a fenced code block, or the span between the first '{' and the last
// '}'.
func DecodeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty response")
	}
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}
	if m := codeBlockPattern.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), out); err == nil {
			return nil
		}
	}
	first, last := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if first >= 0 && last > first {
		if err := json.Unmarshal([]byte(text[first:last+1]), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no JSON object in response: %q", Truncate(text, 200))
}

// Article is a generated title and HTML body.
type Article struct {
	Title string
	HTML  string
}

// ParseArticle splits a writer response into title and body. The first
// non-blank line is the title with markdown heading marks and h1 tags
// removed; the rest is the body with code fences removed.
func ParseArticle(text string) (Article, error) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") && len(lines) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return Article{}, errors.New("empty response")
	}

	title := strings.ReplaceAll(lines[0], "#", "")
	title = strings.NewReplacer("<h1>", "", "</h1>", "").Replace(title)
	title = strings.TrimSpace(title)

	body := strings.Join(lines[1:], "\n")
	body = strings.NewReplacer("```html", "", "```", "").Replace(body)
	body = strings.TrimSpace(body)

	if title == "" || body == "" {
		return Article{}, errors.New("response is missing a title or body")
	}
	return Article{Title: title, HTML: body}, nil
}
