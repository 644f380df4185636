package tagging

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"blogpilot/internal/core"

	"golang.org/x/text/unicode/norm"
)

// Synonyms maps tag variants to their canonical form. It is immutable once
// built.
type Synonyms struct {
	canon map[string]string
}

// NewSynonyms builds a table from canonical -> variants. Chains are resolved
// to a fixpoint, so a canonical form listed as a variant of another canonical
// form maps straight to the final one, and every canonical form maps to
// itself. A variant listed under several canonical forms keeps the
// alphabetically first one. A cycle resolves to its lexically smallest member.
func NewSynonyms(groups map[string][]string) *Synonyms {
	direct := make(map[string]string)
	for _, canonical := range slices.Sorted(maps.Keys(groups)) {
		c := foldTag(canonical)
		if c == "" {
			continue
		}
		for _, v := range groups[canonical] {
			f := foldTag(v)
			if _, taken := direct[f]; f == "" || f == c || taken {
				continue
			}
			direct[f] = c
		}
	}

	resolved := make(map[string]string, len(direct)+len(groups))
	resolve := func(tag string) string {
		pos := map[string]int{tag: 0}
		path := []string{tag}
		cur := tag
		for {
			next, ok := direct[cur]
			if !ok {
				return cur
			}
			if i, seen := pos[next]; seen {
				return slices.Min(path[i:])
			}
			pos[next] = len(path)
			path = append(path, next)
			cur = next
		}
	}
	for variant := range direct {
		resolved[variant] = resolve(variant)
	}
	for canonical := range groups {
		if c := foldTag(canonical); c != "" {
			resolved[c] = resolve(c)
		}
	}
	return &Synonyms{canon: resolved}
}

// LoadSynonyms reads a JSON object of canonical -> variants. A missing file
// yields an empty table.
func LoadSynonyms(path string) (*Synonyms, error) {
	if path == "" {
		return NewSynonyms(nil), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewSynonyms(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read synonyms file: %w", err)
	}
	var groups map[string][]string
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, core.E(core.KindConfig, "tagging.synonyms", "invalid synonyms file "+path, err)
	}
	return NewSynonyms(groups), nil
}

// LazySynonyms returns a loader that reads path on first use and returns the
// same table, or the same error, afterwards.
func LazySynonyms(path string) func() (*Synonyms, error) {
	return sync.OnceValues(func() (*Synonyms, error) {
		return LoadSynonyms(path)
	})
}

// Len returns the number of mapped forms.
func (s *Synonyms) Len() int {
	if s == nil {
		return 0
	}
	return len(s.canon)
}

// Canonical returns the canonical form of a folded tag.
func (s *Synonyms) Canonical(tag string) string {
	if s == nil {
		return tag
	}
	if c, ok := s.canon[tag]; ok {
		return c
	}
	return tag
}

// Normalize folds every tag, maps it to its canonical form and removes
// duplicates within each tier, keeping first-seen order. Normalize is
// idempotent.
func (s *Synonyms) Normalize(tags core.TagSet) core.TagSet {
	var out core.TagSet
	for _, tier := range core.Tiers {
		var kept []string
		seen := map[string]bool{}
		for _, raw := range tags.Get(tier) {
			tag := s.Canonical(foldTag(raw))
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			kept = append(kept, tag)
		}
		out.Set(tier, kept)
	}
	return out
}

// foldTag applies NFKC, lowercases, trims and collapses inner whitespace.
func foldTag(tag string) string {
	tag = norm.NFKC.String(tag)
	tag = strings.ToLower(tag)
	return strings.Join(strings.Fields(tag), " ")
}
