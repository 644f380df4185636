package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"blogpilot/internal/core"
)

// DefaultMaxFilenameRunes bounds archived file names, extension excluded.
const DefaultMaxFilenameRunes = 100

// Window is the publish window in local hours. Start is inclusive and End
// exclusive; Start > End wraps past midnight.
type Window struct {
	Enabled bool
	Start   int
	End     int
}

// OpenAt reports whether files may be processed at t.
func (w Window) OpenAt(t time.Time) bool {
	if !w.Enabled {
		return true
	}
	return w.OpenHour(t.Hour())
}

// OpenHour reports whether hour falls inside the window. Equal bounds mean
// the window never closes.
func (w Window) OpenHour(hour int) bool {
	if !w.Enabled || w.Start == w.End {
		return true
	}
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}

func (w Window) String() string {
	if !w.Enabled {
		return "always"
	}
	return fmt.Sprintf("[%02d:00, %02d:00)", w.Start, w.End)
}

// SanitizeFilename makes title safe as a file name and caps it at max runes.
func SanitizeFilename(title string, max int) string {
	if max <= 0 {
		max = DefaultMaxFilenameRunes
	}
	var sb strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			sb.WriteRune('_')
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		default:
			sb.WriteRune(r)
		}
	}
	name := strings.Join(strings.Fields(sb.String()), " ")
	if runes := []rune(name); len(runes) > max {
		name = string(runes[:max])
	}
	name = strings.Trim(name, " .")
	if name == "" {
		return "untitled"
	}
	return name
}

// categoryDir is the <Major>/<Sub>_<id> part shared by the input, processed
// and review trees.
func categoryDir(f core.SubmittedFile) string {
	return filepath.Join(f.Major, fmt.Sprintf("%s_%d", f.Sub, f.CategoryID))
}

// ArchivePath is where a published file is moved: the title becomes the
// file name and the extension is kept.
func ArchivePath(processedDir string, f core.SubmittedFile, title string, maxRunes int) string {
	name := SanitizeFilename(title, maxRunes) + strings.ToLower(filepath.Ext(f.Path))
	return filepath.Join(processedDir, categoryDir(f), name)
}

// uniquePath appends _2, _3, ... before the extension until path is free.
func uniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// moveFile renames src to a free path derived from dst and returns it. A
// rename across devices falls back to copy and delete.
func moveFile(src, dst string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	dst = uniquePath(dst)
	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("failed to move %s: %w", src, err)
	}
	if err := os.Remove(src); err != nil {
		return dst, fmt.Errorf("copied to %s but failed to remove source: %w", dst, err)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

// writeDraft saves the article HTML for manual review and returns its path.
func writeDraft(draftsDir string, f core.SubmittedFile, title, html string) (string, error) {
	if err := os.MkdirAll(draftsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create drafts dir: %w", err)
	}
	base := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
	path := uniquePath(filepath.Join(draftsDir, SanitizeFilename(base, 0)+".html"))
	content := fmt.Sprintf("<!-- title: %s -->\n%s\n", strings.ReplaceAll(title, "--", "- -"), html)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write draft: %w", err)
	}
	return path, nil
}
