// Package extract reads the text of submitted documents.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/ledongthuc/pdf"
)

// MinTextLength is the shortest extracted text accepted, in runes.
const MinTextLength = 50

// Supported lists the handled extensions.
var Supported = []string{".pdf", ".md", ".txt"}

// IsSupported reports whether path has a handled extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range Supported {
		if ext == s {
			return true
		}
	}
	return false
}

// Extractor turns a file into plain text.
type Extractor struct {
	MinLength int
}

// New returns an Extractor. A non-positive minimum uses MinTextLength.
func New(minLength int) *Extractor {
	if minLength <= 0 {
		minLength = MinTextLength
	}
	return &Extractor{MinLength: minLength}
}

// File extracts the text of path. Unsupported, unreadable or too-short
// documents fail with KindExtraction.
func (e *Extractor) File(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = pdfText(path)
	case ".md":
		text, err = markdownText(path)
	case ".txt":
		text, err = plainText(path)
	default:
		return "", core.E(core.KindExtraction, "extract.file", fmt.Sprintf("unsupported file type %q", ext), nil)
	}
	if err != nil {
		return "", core.E(core.KindExtraction, "extract.file", "failed to read "+filepath.Base(path), err)
	}

	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < e.MinLength {
		return "", core.E(core.KindExtraction, "extract.file",
			fmt.Sprintf("content too short (%d characters, need %d)", n, e.MinLength), nil)
	}

	logger.Info("Extracted text", "file", filepath.Base(path), "runes", utf8.RuneCountInString(text), "type", ext)
	return text, nil
}

func plainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8")
	}
	return string(data), nil
}

// markdownText renders the document to HTML and keeps the visible text, one
// block element per paragraph.
func markdownText(path string) (string, error) {
	src, err := plainText(path)
	if err != nil {
		return "", err
	}
	p := parser.NewWithExtensions(parser.CommonExtensions)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	rendered := markdown.ToHTML([]byte(src), p, r)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(rendered)))
	if err != nil {
		return "", fmt.Errorf("failed to parse rendered markdown: %w", err)
	}
	var blocks []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, td").Each(func(_ int, s *goquery.Selection) {
		// loose list items wrap their text in <p>; nested lists are visited on their own
		if s.Is("li") && s.ChildrenFiltered("p, ul, ol").Length() > 0 {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			blocks = append(blocks, t)
		}
	})
	if len(blocks) == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer func() { _ = f.Close() }()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("Failed to extract PDF page", "file", filepath.Base(path), "page", i, "error", err.Error())
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}
