package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"blogpilot/internal/core"
	"blogpilot/internal/extract"

	"github.com/fsnotify/fsnotify"
)

// CycleStats summarises one scan cycle
type CycleStats struct {
	Scanned    int
	Skipped    int // invalid paths found by the scan
	WindowShut bool
	Results    []Result
	Counts     map[Outcome]int
	StartTime  time.Time
	EndTime    time.Time
}

// ScanOnce processes every eligible file under the input root. The publish
// window is checked once, before any file is touched. An auth or config
// failure stops the cycle and is returned.
func (p *Pipeline) ScanOnce(ctx context.Context) (*CycleStats, error) {
	stats := &CycleStats{Counts: map[Outcome]int{}, StartTime: p.now()}
	defer func() { stats.EndTime = p.now() }()

	if !p.config.Window.OpenAt(p.now()) {
		p.log.Info().Str("window", p.config.Window.String()).Msg("Outside publish window, leaving files untouched")
		stats.WindowShut = true
		return stats, nil
	}

	files, skipped, err := p.resolver.Scan()
	if err != nil {
		return stats, fmt.Errorf("failed to scan input: %w", err)
	}
	for path, serr := range skipped {
		p.log.Warn().Str("path", path).Err(serr).Msg("Ignoring file outside the category layout")
	}
	stats.Scanned = len(files)
	stats.Skipped = len(skipped)
	if len(files) == 0 {
		p.log.Debug().Msg("No files to process")
		return stats, nil
	}
	p.log.Info().Int("files", len(files)).Int("workers", p.config.Workers).Msg("Scan cycle started")

	paths := make(chan string)
	results := make(chan Result)
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				results <- p.processFile(cctx, path)
			}
		}()
	}
	go func() {
		defer close(paths)
		for _, f := range files {
			select {
			case paths <- f.Path:
			case <-cctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var fatalErr error
	for res := range results {
		stats.Results = append(stats.Results, res)
		stats.Counts[res.Outcome]++
		if res.Outcome == OutcomeFailed && fatalErr == nil {
			fatalErr = res.Err
			cancel()
		}
	}

	p.log.Info().
		Int("published", stats.Counts[OutcomePublished]).
		Int("duplicate", stats.Counts[OutcomeDuplicate]).
		Int("draft", stats.Counts[OutcomeDraft]).
		Int("review", stats.Counts[OutcomeReview]).
		Int("deferred", stats.Counts[OutcomeDeferred]).
		Int("skipped", stats.Counts[OutcomeSkipped]).
		Msg("Scan cycle finished")

	if fatalErr != nil {
		return stats, fatalErr
	}
	return stats, ctx.Err()
}

// Run polls the input tree until ctx is cancelled. Besides the poll interval,
// new files wake the loop after a quiet period when watching is enabled.
// Fatal errors end the loop.
func (p *Pipeline) Run(ctx context.Context, onCycle func(*CycleStats)) error {
	p.log.Info().
		Dur("poll_interval", p.config.PollInterval).
		Str("window", p.config.Window.String()).
		Bool("watch", p.config.Watch).
		Msg("Pipeline loop started")

	var wake <-chan struct{}
	if p.config.Watch {
		w, err := p.watch(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("File watcher unavailable, polling only")
		} else {
			wake = w
		}
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		stats, err := p.ScanOnce(ctx)
		if onCycle != nil && stats != nil {
			onCycle(stats)
		}
		if ctx.Err() != nil {
			p.log.Info().Msg("Pipeline loop stopped")
			return nil
		}
		if err != nil {
			if core.IsKind(err, core.KindAuth) || core.IsKind(err, core.KindConfig) {
				return err
			}
			p.log.Error().Err(err).Msg("Scan cycle failed")
		}

		select {
		case <-ctx.Done():
			p.log.Info().Msg("Pipeline loop stopped")
			return nil
		case <-ticker.C:
		case <-wake:
			p.log.Debug().Msg("Woken by new input")
		}
	}
}

// watch reports file creation anywhere in the input tree, debounced.
func (p *Pipeline) watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addTree(w, p.resolver.Root()); err != nil {
		_ = w.Close()
		return nil, err
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer func() { _ = w.Close() }()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						p.log.Warn().Err(err).Str("dir", ev.Name).Msg("Failed to watch new directory")
					}
					continue
				}
				if !extract.IsSupported(ev.Name) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(p.config.Debounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(p.config.Debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.log.Warn().Err(err).Msg("File watcher error")
			}
		}
	}()
	return wake, nil
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
