package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/logger"

	"github.com/rs/zerolog"
)

// BackpatchDirName is the directory of pending back-patches under the data
// directory.
const BackpatchDirName = "pending_backpatches"

// Backpatch is a forward link still owed to the previous installment of a
// series. It is written before the source is archived and removed once the
// previous post links to the new one.
type Backpatch struct {
	Decision     core.SeriesDecision `json:"decision"`
	Title        string              `json:"title"`
	Published    core.PublishResult  `json:"published"`
	AttemptCount int                 `json:"attemptCount"`
	LastError    string              `json:"lastError,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// BackpatchQueue holds pending back-patches, one file per published post.
type BackpatchQueue struct {
	dir         string
	maxAttempts int
	log         zerolog.Logger
}

// NewBackpatchQueue keeps pending back-patches under dataDir.
func NewBackpatchQueue(dataDir string, maxAttempts int) *BackpatchQueue {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &BackpatchQueue{
		dir:         filepath.Join(dataDir, BackpatchDirName),
		maxAttempts: maxAttempts,
		log:         logger.With("component", "backpatch_queue"),
	}
}

// PathFor returns the file that holds the back-patch owed for postID.
func (q *BackpatchQueue) PathFor(postID int64) string {
	return filepath.Join(q.dir, fmt.Sprintf("post-%d.json", postID))
}

// Save records bp. Saving the same post again replaces the entry.
func (q *BackpatchQueue) Save(bp Backpatch) error {
	if bp.Published.PostID == 0 || bp.Decision.Previous == nil {
		return fmt.Errorf("back-patch needs a published post and a previous installment")
	}
	if bp.CreatedAt.IsZero() {
		bp.CreatedAt = time.Now().UTC()
	}
	return writeJSON(q.dir, q.PathFor(bp.Published.PostID), bp)
}

// Done removes the entry for postID.
func (q *BackpatchQueue) Done(postID int64) {
	removeFile(q.PathFor(postID), q.log)
}

// Len counts pending back-patches.
func (q *BackpatchQueue) Len() int {
	paths, _ := jsonFiles(q.dir)
	return len(paths)
}

// BackpatchHandler applies one back-patch. A returned error keeps it pending.
type BackpatchHandler func(ctx context.Context, bp Backpatch) error

// Drain hands every pending back-patch to h. Applied entries are removed,
// unreadable ones are purged and failing ones are dropped at max attempts.
// Summary.Stored counts applied entries.
func (q *BackpatchQueue) Drain(ctx context.Context, h BackpatchHandler) (Summary, error) {
	var sum Summary
	paths, err := jsonFiles(q.dir)
	if err != nil {
		return sum, fmt.Errorf("failed to list back-patches: %w", err)
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log := q.log.With().Str("path", path).Logger()

		bp, err := readBackpatch(path)
		if err != nil {
			log.Warn().Err(err).Msg("Malformed back-patch purged")
			removeFile(path, q.log)
			sum.Purged++
			continue
		}

		if err := h(ctx, bp); err != nil {
			bp.AttemptCount++
			bp.LastError = err.Error()
			if bp.AttemptCount >= q.maxAttempts {
				log.Error().Err(err).Int64("previous_post", bp.Decision.Previous.PostID).
					Int("attempts", bp.AttemptCount).Msg("Back-patch reached max attempts, dropping")
				removeFile(path, q.log)
				sum.Dropped++
				continue
			}
			if serr := writeJSON(q.dir, path, bp); serr != nil {
				log.Error().Err(serr).Msg("Failed to update back-patch")
			}
			log.Warn().Err(err).Int("attempts", bp.AttemptCount).Msg("Back-patch failed")
			sum.Failed++
			continue
		}
		removeFile(path, q.log)
		sum.Stored++
	}
	return sum, nil
}

func readBackpatch(path string) (Backpatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Backpatch{}, err
	}
	var bp Backpatch
	if err := json.Unmarshal(data, &bp); err != nil {
		return Backpatch{}, err
	}
	if bp.Published.PostID == 0 || bp.Decision.Previous == nil || bp.Decision.Previous.PostID == 0 {
		return Backpatch{}, fmt.Errorf("back-patch has no post to link")
	}
	return bp, nil
}
