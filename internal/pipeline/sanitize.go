package pipeline

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// strippedElements never reach the publish target.
const strippedElements = "script, style, iframe, frame, frameset, object, embed, applet, form, base, link, meta"

// SanitizeHTML removes active content from generated article HTML: scripting
// elements, inline event handlers and javascript: URLs. Markup, classes and
// links are otherwise kept.
func SanitizeHTML(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("failed to parse article HTML: %w", err)
	}
	body := doc.Find("body")
	body.Find(strippedElements).Remove()

	body.Find("*").Each(func(_ int, s *goquery.Selection) {
		var drop []string
		for _, attr := range s.Nodes[0].Attr {
			key := strings.ToLower(attr.Key)
			switch {
			case strings.HasPrefix(key, "on"):
				drop = append(drop, attr.Key)
			case key == "href" || key == "src" || key == "action" || key == "formaction" || key == "xlink:href":
				if unsafeURL(attr.Val) {
					drop = append(drop, attr.Key)
				}
			}
		}
		for _, key := range drop {
			s.RemoveAttr(key)
		}
	})

	out, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render article HTML: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func unsafeURL(v string) bool {
	v = strings.ToLower(strings.Join(strings.Fields(v), ""))
	return strings.HasPrefix(v, "javascript:") || strings.HasPrefix(v, "vbscript:") ||
		(strings.HasPrefix(v, "data:") && !strings.HasPrefix(v, "data:image/"))
}
