package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-runs a sync whenever the patches branch ref moves. It watches
// the loose ref's directory plus the .git directory itself, since git may
// retire the loose ref into packed-refs.
type Watcher struct {
	gitDir        string
	patchesBranch string
	debounce      time.Duration
	onChange      func(ctx context.Context) error
	logger        *zap.Logger
}

func New(gitDir, patchesBranch string, onChange func(ctx context.Context) error, logger *zap.Logger) *Watcher {
	return &Watcher{
		gitDir:        gitDir,
		patchesBranch: patchesBranch,
		debounce:      500 * time.Millisecond,
		onChange:      onChange,
		logger:        logger,
	}
}

// Run blocks until ctx is canceled. Sync failures are logged and watching
// continues; only watcher-level failures end the loop.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	refPath := filepath.Join(w.gitDir, "refs", "heads", filepath.FromSlash(w.patchesBranch))
	for _, dir := range []string{filepath.Dir(refPath), w.gitDir} {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.logger.Info("watching for ref updates",
		zap.String("branch", w.patchesBranch),
		zap.String("git_dir", w.gitDir),
	)

	// Ref updates arrive as bursts of create/rename events; a debounce
	// timer collapses each burst into one sync.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.relevant(event.Name, refPath) {
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			if err := w.onChange(ctx); err != nil {
				w.logger.Warn("sync after ref update failed", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(name, refPath string) bool {
	if name == refPath || name == refPath+".lock" {
		return true
	}
	return filepath.Base(name) == "packed-refs"
}
