// Package scanner maps files under the input root to their publish category.
package scanner

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"blogpilot/internal/core"
)

// DefaultMajors is the allowlist used when no category map is configured.
var DefaultMajors = []string{"Articles", "Books", "Magazine", "News"}

var subDirPattern = regexp.MustCompile(`^(.+)_(\d+)$`)

// SupportedExtensions lists the document types the pipeline can extract.
var SupportedExtensions = map[string]bool{".pdf": true, ".md": true, ".txt": true}

// Resolver parses input paths into SubmittedFile values.
type Resolver struct {
	root   string
	majors map[string]bool
	now    func() time.Time
}

// NewResolver creates a resolver for the given input root. An empty allowlist
// falls back to DefaultMajors.
func NewResolver(root string, majors []string) *Resolver {
	if len(majors) == 0 {
		majors = DefaultMajors
	}
	allowed := make(map[string]bool, len(majors))
	for _, m := range majors {
		allowed[m] = true
	}
	return &Resolver{root: root, majors: allowed, now: time.Now}
}

// Root returns the input root.
func (r *Resolver) Root() string { return r.root }

// Resolve checks that path has the shape <root>/<Major>/<Sub>_<id>/<file>.
func (r *Resolver) Resolve(path string) (core.SubmittedFile, error) {
	const op = "scanner.resolve"

	absRoot, err := filepath.Abs(r.root)
	if err != nil {
		return core.SubmittedFile{}, core.E(core.KindInvalidPath, op, "bad input root", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return core.SubmittedFile{}, core.E(core.KindInvalidPath, op, "bad path", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return core.SubmittedFile{}, core.E(core.KindInvalidPath, op, fmt.Sprintf("%s is outside %s", path, r.root), err)
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return core.SubmittedFile{}, core.E(core.KindInvalidPath, op, fmt.Sprintf("expected <Major>/<Sub>_<id>/<file>, got %s", rel), nil)
	}
	major, subDir := parts[0], parts[1]

	if !r.majors[major] {
		return core.SubmittedFile{}, core.E(core.KindInvalidPath, op, fmt.Sprintf("unknown major category %q", major), nil)
	}

	m := subDirPattern.FindStringSubmatch(subDir)
	if m == nil {
		return core.SubmittedFile{}, core.E(core.KindInvalidPath, op, fmt.Sprintf("subcategory %q does not match <name>_<id>", subDir), nil)
	}
	id, err := strconv.Atoi(m[2])
	if err != nil || id <= 0 {
		return core.SubmittedFile{}, core.E(core.KindInvalidPath, op, fmt.Sprintf("invalid category id in %q", subDir), err)
	}

	return core.SubmittedFile{
		Path:         absPath,
		Major:        major,
		Sub:          m[1],
		CategoryID:   id,
		Hashtag:      "#" + major + "_" + m[1],
		DiscoveredAt: r.now(),
	}, nil
}

// Scan returns every supported file that resolves, sorted by path.
// Files that do not resolve are returned in skipped with their error.
func (r *Resolver) Scan() (files []core.SubmittedFile, skipped map[string]error, err error) {
	skipped = make(map[string]error)
	var paths []string

	err = filepath.WalkDir(r.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := d.Name()
		if d.IsDir() {
			if path != r.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !SupportedExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan %s: %w", r.root, err)
	}

	sort.Strings(paths)
	for _, p := range paths {
		f, resolveErr := r.Resolve(p)
		if resolveErr != nil {
			skipped[p] = resolveErr
			continue
		}
		files = append(files, f)
	}
	return files, skipped, nil
}

// Subcategory is one entry of the category map.
type Subcategory struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// Categories maps a major category to its subcategories.
type Categories map[string][]Subcategory

// LoadCategories reads the category map JSON. Keys starting with "_" are
// comments and are dropped.
func LoadCategories(path string) (Categories, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, core.E(core.KindConfig, "scanner.categories", "invalid category map", err)
	}
	cats := make(Categories, len(raw))
	for major, body := range raw {
		if strings.HasPrefix(major, "_") {
			continue
		}
		var subs []Subcategory
		if err := json.Unmarshal(body, &subs); err != nil {
			return nil, core.E(core.KindConfig, "scanner.categories", fmt.Sprintf("invalid subcategories for %s", major), err)
		}
		cats[major] = subs
	}
	return cats, nil
}

// Majors returns the sorted major names.
func (c Categories) Majors() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EnsureCategoryDirs creates input/<Major>/<Sub>_<id> for every entry.
func EnsureCategoryDirs(root string, cats Categories) (int, error) {
	created := 0
	for major, subs := range cats {
		for _, sub := range subs {
			if sub.Name == "" || sub.ID <= 0 {
				continue
			}
			dir := filepath.Join(root, major, fmt.Sprintf("%s_%d", sub.Name, sub.ID))
			if _, err := os.Stat(dir); err == nil {
				continue
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return created, fmt.Errorf("failed to create %s: %w", dir, err)
			}
			created++
		}
	}
	return created, nil
}
