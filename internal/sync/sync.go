package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"patchsync/internal/config"
	"patchsync/internal/errors"
	"patchsync/internal/git"
	"patchsync/internal/journal"
	"patchsync/internal/logging"
	"patchsync/internal/patches"
	"patchsync/internal/specfile"
)

// Syncer drives one patch-set update: snapshot commit, export on the
// patches branch, spec rewrite, amend. Strictly sequential and fail-fast;
// a failure after the snapshot leaves the tree in whatever state the last
// successful step produced.
type Syncer struct {
	cfg     *config.Config
	root    string
	runner  git.Runner
	locator specfile.Locator
	filter  patches.Filter
	journal *journal.Store // nil disables run recording
	logger  *logging.Logger
}

// Result describes a completed run.
type Result struct {
	RunID         string
	Branch        string
	PatchesBranch string
	SpecPath      string
	Base          specfile.Base
	StartCommit   string
	Exported      []string
	Removed       []string
}

func New(cfg *config.Config, root string, runner git.Runner, locator specfile.Locator, filter patches.Filter, jnl *journal.Store, logger *logging.Logger) *Syncer {
	return &Syncer{
		cfg:     cfg,
		root:    root,
		runner:  runner,
		locator: locator,
		filter:  filter,
		journal: jnl,
		logger:  logger,
	}
}

// CommitMessage is the message of the single commit a run produces.
func CommitMessage(patchesBranch string) string {
	return fmt.Sprintf("Updated patches from %s", patchesBranch)
}

// Run performs the full sync. The returned result is non-nil on success,
// including the soft "nothing to export" outcome.
func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	run := &journal.Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}
	logger := s.logger.WithRun(run.ID)

	res, err := s.run(ctx, run, logger)

	run.FinishedAt = time.Now()
	if err != nil {
		run.Outcome = journal.OutcomeFailed
		run.Error = err.Error()
	} else if len(res.Exported) == 0 {
		run.Outcome = journal.OutcomeEmpty
	} else {
		run.Outcome = journal.OutcomeSynced
	}
	if s.journal != nil {
		if jerr := s.journal.Record(run); jerr != nil {
			logger.Warn("recording run failed", zap.Error(jerr))
		}
	}

	return res, err
}

func (s *Syncer) run(ctx context.Context, run *journal.Run, logger *zap.Logger) (*Result, error) {
	// Preconditions before any side effect.
	if !s.filter.Available() {
		return nil, errors.Precondition(
			fmt.Sprintf("%s is not available. Please install patchutils. Aborting", s.cfg.FilterTool),
			errors.ErrToolMissing,
		)
	}
	clean, err := s.runner.IsClean(ctx)
	if err != nil {
		return nil, err
	}
	if !clean {
		return nil, errors.Precondition("The repo is not clean. Aborting", errors.ErrDirtyTree)
	}

	// The snapshot commit lands on whatever is checked out, and the final
	// amend rewrites the configured branch's HEAD. Those must be the same
	// branch or the amend would destroy an unrelated commit.
	current, err := s.runner.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	branch := s.cfg.Branch
	if branch == "" {
		branch = current
	} else if branch != current {
		return nil, errors.Precondition(
			fmt.Sprintf("Branch %s is configured but %s is checked out. Aborting", branch, current), nil,
		)
	}
	patchesBranch := s.cfg.PatchesBranchFor(branch)
	run.Branch = branch
	run.PatchesBranch = patchesBranch

	exists, err := s.runner.BranchExists(ctx, patchesBranch)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Precondition(
			fmt.Sprintf("No %s branch. Aborting", patchesBranch), nil,
		)
	}

	specPath, err := s.locator.Locate(ctx)
	if err != nil {
		return nil, err
	}
	spec, err := specfile.Parse(specPath)
	if err != nil {
		return nil, errors.Internal(err.Error(), err)
	}
	run.BaseRef = spec.Base.Ref
	run.Skip = spec.Base.Skip
	logger.Info("syncing patches",
		zap.String("branch", branch),
		zap.String("patches_branch", patchesBranch),
		zap.String("base", spec.Base.Ref),
		zap.Int("skip", spec.Base.Skip),
	)

	message := CommitMessage(patchesBranch)

	// Snapshot: archive and remove the old patch set, then record a
	// commit to amend later.
	removed, err := s.removeOldPatches(ctx, run, logger)
	if err != nil {
		return nil, err
	}
	if err := s.runner.Commit(ctx, message); err != nil {
		return nil, err
	}

	// Export from the patches branch.
	if err := s.runner.Checkout(ctx, patchesBranch); err != nil {
		return nil, err
	}
	start, ok, err := patches.ResolveLogged(ctx, s.runner, spec.Base, patchesBranch, logger)
	if err != nil {
		return nil, err
	}
	var exported []string
	if ok {
		run.StartCommit = start
		exporter := patches.NewExporter(s.runner, s.filter, logger)
		exported, err = exporter.Export(ctx, start, patchesBranch)
		if err != nil {
			return nil, err
		}
	}
	run.Exported = exported

	// Back on the packaging branch: rewrite the directive block, stage,
	// and fold everything into the snapshot commit.
	if err := s.runner.Checkout(ctx, branch); err != nil {
		return nil, err
	}
	if err := spec.Rewrite(exported); err != nil {
		return nil, errors.Internal(err.Error(), err)
	}
	if err := s.runner.Add(ctx, append(append([]string{}, exported...), spec.Path)); err != nil {
		return nil, err
	}
	if err := s.runner.Amend(ctx, message); err != nil {
		return nil, err
	}

	logger.Info("sync complete",
		zap.Int("exported", len(exported)),
		zap.Int("removed", len(removed)),
	)

	return &Result{
		RunID:         run.ID,
		Branch:        branch,
		PatchesBranch: patchesBranch,
		SpecPath:      spec.Path,
		Base:          spec.Base,
		StartCommit:   start,
		Exported:      exported,
		Removed:       removed,
	}, nil
}

// removeOldPatches archives each tracked patch body into the journal and
// removes the files from the tree.
func (s *Syncer) removeOldPatches(ctx context.Context, run *journal.Run, logger *zap.Logger) ([]string, error) {
	old, err := s.runner.TrackedPatches(ctx)
	if err != nil {
		return nil, err
	}
	if len(old) == 0 {
		return nil, nil
	}

	if s.journal != nil {
		for _, name := range old {
			content, err := os.ReadFile(filepath.Join(s.root, name))
			if err != nil {
				logger.Warn("cannot archive patch", zap.String("file", name), zap.Error(err))
				continue
			}
			if err := s.journal.ArchivePatch(run.ID, name, content); err != nil {
				logger.Warn("cannot archive patch", zap.String("file", name), zap.Error(err))
				continue
			}
			run.Archived = append(run.Archived, name)
		}
	}

	if err := s.runner.Remove(ctx, old); err != nil {
		return nil, err
	}
	return old, nil
}
