// Package retryqueue keeps articles that were published but could not be
// stored, one JSON file per article, until a later run stores them.
package retryqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"

	"github.com/rs/zerolog"
)

// DirName is the queue directory under the data directory.
const DirName = "failed_ingests"

// DefaultMaxAttempts is the number of store attempts before a record is
// dropped.
const DefaultMaxAttempts = 5

// EmbeddingRef identifies the embedding without storing its values. The
// vector is regenerated from the promo text on retry.
type EmbeddingRef struct {
	Model        string `json:"model"`
	Dimensions   int    `json:"dimensions"`
	SourceSHA256 string `json:"sourceSha256"`
}

// Record is one failed ingest.
type Record struct {
	FilePath     string       `json:"filePath"`
	SourceURL    string       `json:"sourceUrl"`
	Tags         []string     `json:"tags"` // "<tier>:<value>"
	EmbeddingRef EmbeddingRef `json:"embeddingRef"`
	Title        string       `json:"title"`
	AttemptCount int          `json:"attemptCount"`
	LastError    string       `json:"lastError"`

	PostID            int64     `json:"postId"`
	Promo             string    `json:"promo"`
	Category          string    `json:"category"`
	CategoryID        int       `json:"categoryId"`
	SeriesID          string    `json:"seriesId,omitempty"`
	SeriesTitle       string    `json:"seriesTitle,omitempty"`
	SeriesOrder       int       `json:"seriesOrder,omitempty"`
	SeriesCreate      bool      `json:"seriesCreate,omitempty"`
	PreviousArticleID string    `json:"previousArticleId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// FromArticle builds a record for an article whose store write failed.
func FromArticle(filePath string, rec core.ArticleRecord, cause error) Record {
	r := Record{
		FilePath:  filePath,
		SourceURL: rec.URL,
		Tags:      rec.Tags.Flatten(),
		EmbeddingRef: EmbeddingRef{
			Model:        rec.Embedding.Model,
			Dimensions:   len(rec.Embedding.Values),
			SourceSHA256: Hash(rec.Promo),
		},
		Title:      rec.Title,
		PostID:     rec.PostID,
		Promo:      rec.Promo,
		Category:   rec.Category,
		CategoryID: rec.CategoryID,
		CreatedAt:  time.Now().UTC(),
	}
	if cause != nil {
		r.LastError = cause.Error()
	}
	if s := rec.Series; s != nil {
		r.SeriesID = s.SeriesID
		r.SeriesTitle = s.SeriesTitle
		r.SeriesOrder = s.Order
		r.SeriesCreate = s.Create
		if s.Previous != nil {
			r.PreviousArticleID = s.Previous.ArticleID
		}
	}
	return r
}

// Article rebuilds the store record. The embedding is left for the caller to
// regenerate.
func (r Record) Article() (core.ArticleRecord, error) {
	tags, err := core.ParseFlatTags(r.Tags)
	if err != nil {
		return core.ArticleRecord{}, err
	}
	rec := core.ArticleRecord{
		Title:      r.Title,
		URL:        r.SourceURL,
		PostID:     r.PostID,
		Category:   r.Category,
		CategoryID: r.CategoryID,
		Tags:       tags,
		Promo:      r.Promo,
	}
	if r.SeriesID != "" {
		rec.Series = &core.SeriesDecision{
			SeriesID:    r.SeriesID,
			SeriesTitle: r.SeriesTitle,
			Order:       r.SeriesOrder,
			Create:      r.SeriesCreate,
		}
		if r.PreviousArticleID != "" {
			rec.Series.Previous = &core.SeriesMember{ArticleID: r.PreviousArticleID, Order: r.SeriesOrder - 1}
		}
	}
	return rec, nil
}

// Hash returns the hex sha256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Queue is the on-disk queue.
type Queue struct {
	dir         string
	maxAttempts int
	log         zerolog.Logger
}

// New returns a queue rooted at <dataDir>/failed_ingests.
func New(dataDir string, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		dir:         filepath.Join(dataDir, DirName),
		maxAttempts: maxAttempts,
		log:         logger.With("component", "retryqueue"),
	}
}

// Dir returns the queue directory.
func (q *Queue) Dir() string { return q.dir }

// PathFor returns the file that holds the record for title.
func (q *Queue) PathFor(title string) string {
	return filepath.Join(q.dir, Hash(title)[:12]+".json")
}

// Save writes rec, replacing any earlier record with the same title.
func (q *Queue) Save(rec Record) (string, error) {
	path := q.PathFor(rec.Title)
	if err := writeJSON(q.dir, path, rec); err != nil {
		return "", err
	}
	q.log.Info().Str("path", path).Str("title", rec.Title).Msg("Failed ingest saved for retry")
	return path, nil
}

// writeJSON encodes v into path through a temp file in dir, so readers never
// see a partial record.
func writeJSON(dir, path string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".record-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move record into place: %w", err)
	}
	return nil
}

// Len counts queued records.
func (q *Queue) Len() int {
	paths, _ := q.paths()
	return len(paths)
}

func (q *Queue) paths() ([]string, error) {
	return jsonFiles(q.dir)
}

func jsonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Handler stores one record. A returned error keeps the record queued.
type Handler func(ctx context.Context, rec Record) error

// Summary counts what a drain did.
type Summary struct {
	Stored  int
	Failed  int
	Purged  int
	Dropped int // reached max attempts
}

// Drain hands every queued record to h. Records that cannot be decoded or
// carry no tags are purged. A stored record is deleted. A failed record has
// its attempt count raised and is dropped once it reaches the maximum.
func (q *Queue) Drain(ctx context.Context, h Handler) (Summary, error) {
	var sum Summary
	paths, err := q.paths()
	if err != nil {
		return sum, fmt.Errorf("failed to list queue: %w", err)
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log := q.log.With().Str("path", path).Logger()

		rec, err := readRecord(path)
		if err != nil {
			log.Warn().Err(err).Msg("Malformed retry record purged")
			q.remove(path)
			sum.Purged++
			continue
		}
		if len(rec.Tags) == 0 {
			log.Warn().Str("title", rec.Title).Msg("Retry record without tags purged")
			q.remove(path)
			sum.Purged++
			continue
		}

		if err := h(ctx, rec); err != nil {
			rec.AttemptCount++
			rec.LastError = err.Error()
			if rec.AttemptCount >= q.maxAttempts {
				log.Error().Err(err).Str("title", rec.Title).Int("attempts", rec.AttemptCount).
					Msg("Retry record reached max attempts, dropping")
				q.remove(path)
				sum.Dropped++
				continue
			}
			if saved, serr := q.Save(rec); serr != nil {
				log.Error().Err(serr).Msg("Failed to update retry record")
			} else if saved != path {
				q.remove(path)
			}
			log.Warn().Err(err).Str("title", rec.Title).Int("attempts", rec.AttemptCount).Msg("Retry failed")
			sum.Failed++
			continue
		}
		q.remove(path)
		sum.Stored++
		log.Info().Str("title", rec.Title).Msg("Failed ingest stored")
	}
	return sum, nil
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	if rec.Title == "" {
		return Record{}, errors.New("record has no title")
	}
	if _, err := core.ParseFlatTags(rec.Tags); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (q *Queue) remove(path string) {
	removeFile(path, q.log)
}

func removeFile(path string, log zerolog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error().Err(err).Str("path", path).Msg("Failed to remove retry record")
	}
}
