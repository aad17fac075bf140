package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"patchsync/internal/config"
	"patchsync/internal/errors"
	"patchsync/internal/git"
	"patchsync/internal/journal"
	"patchsync/internal/logging"
)

const testSpec = `Name: widget
Version: 1.0
# patches_base=abc123+1
Source0: widget-1.0.tar.gz

%prep
%setup -q

%build
make
`

type fakeLocator struct {
	path string
	err  error
}

func (l *fakeLocator) Locate(ctx context.Context) (string, error) {
	return l.path, l.err
}

type fakeFilter struct {
	available bool
	applied   []string
}

func (f *fakeFilter) Available() bool { return f.available }

func (f *fakeFilter) Apply(ctx context.Context, path string) error {
	f.applied = append(f.applied, path)
	return nil
}

type fixture struct {
	syncer   *Syncer
	cfg      *config.Config
	runner   *git.FakeRunner
	filter   *fakeFilter
	journal  *journal.Store
	root     string
	specPath string
}

func setup(t *testing.T, spec string, runner *git.FakeRunner) *fixture {
	t.Helper()

	root := t.TempDir()
	specPath := filepath.Join(root, "widget.spec")
	require.NoError(t, os.WriteFile(specPath, []byte(spec), 0644))

	jnl, err := journal.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		jnl.Close()
	})

	runner.Dir = root
	filter := &fakeFilter{available: true}
	cfg := config.Default()
	s := New(cfg, root, runner, &fakeLocator{path: specPath}, filter, jnl, &logging.Logger{Logger: zap.NewNop()})

	return &fixture{
		syncer:   s,
		cfg:      cfg,
		runner:   runner,
		filter:   filter,
		journal:  jnl,
		root:     root,
		specPath: specPath,
	}
}

func readSpec(t *testing.T, f *fixture) string {
	t.Helper()
	content, err := os.ReadFile(f.specPath)
	require.NoError(t, err)
	return string(content)
}

func TestRunExportsRange(t *testing.T) {
	runner := &git.FakeRunner{
		Branch: "master",
		Clean:  true,
		Branches: map[string]bool{
			"master-patches": true,
		},
		Ancestry: map[string][]string{
			"abc123..master-patches": {"c1", "c2", "c3", "c4"},
		},
		PatchFiles: map[string][]string{
			"c3..master-patches": {"0001-Fix-the-widget.patch"},
		},
	}
	f := setup(t, testSpec, runner)

	res, err := f.syncer.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "c3", res.StartCommit)
	assert.Equal(t, []string{"0001-Fix-the-widget.patch"}, res.Exported)
	assert.Equal(t, res.Exported, f.filter.applied)

	spec := readSpec(t, f)
	assert.Contains(t, spec, "# patches_base=abc123+1\nPatch0001: 0001-Fix-the-widget.patch\n")
	assert.Contains(t, spec, "%setup -q\n%patch0001 -p1\n")

	// One snapshot commit, amended with the same message.
	message := "Updated patches from master-patches"
	assert.Equal(t, []string{message}, runner.Committed)
	assert.Equal(t, []string{message}, runner.AmendedMsg)

	// Export happens on the patches branch, the rest back on master.
	assert.Equal(t, []string{"master-patches", "master"}, runner.CheckedOut)
	require.Len(t, runner.Staged, 1)
	assert.Equal(t, []string{"0001-Fix-the-widget.patch", f.specPath}, runner.Staged[0])

	// Strict sequencing: precondition, snapshot, switch, export, switch
	// back, stage, amend.
	assert.Equal(t, []string{
		"is-clean",
		"current-branch",
		"branch-exists",
		"tracked-patches",
		"commit",
		"checkout",
		"ancestry-path",
		"format-patch",
		"checkout",
		"add",
		"amend",
	}, runner.Calls)

	run, err := f.journal.Get(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, journal.OutcomeSynced, run.Outcome)
	assert.Equal(t, "c3", run.StartCommit)
}

func TestRunDirtyTree(t *testing.T) {
	runner := &git.FakeRunner{
		Branch: "master",
		Clean:  false,
		Branches: map[string]bool{
			"master-patches": true,
		},
	}
	f := setup(t, testSpec, runner)

	_, err := f.syncer.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "The repo is not clean. Aborting", err.Error())
	assert.Equal(t, 1, errors.ExitCode(err))
	assert.True(t, errors.Is(err, errors.ErrDirtyTree))

	// Nothing happened past the check.
	assert.Empty(t, runner.CheckedOut)
	assert.Empty(t, runner.Committed)

	runs, jerr := f.journal.List()
	require.NoError(t, jerr)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.OutcomeFailed, runs[0].Outcome)
}

func TestRunConfiguredBranch(t *testing.T) {
	t.Run("mismatch with checkout aborts before any side effect", func(t *testing.T) {
		// An amend on the configured branch would rewrite a commit the
		// snapshot never captured, so the run must not get that far.
		runner := &git.FakeRunner{
			Branch: "master",
			Clean:  true,
			Branches: map[string]bool{
				"stable-patches": true,
			},
		}
		f := setup(t, testSpec, runner)
		f.cfg.Branch = "stable"

		_, err := f.syncer.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, "Branch stable is configured but master is checked out. Aborting", err.Error())
		assert.Equal(t, 1, errors.ExitCode(err))

		assert.Empty(t, runner.CheckedOut)
		assert.Empty(t, runner.Committed)
		assert.Empty(t, runner.AmendedMsg)
	})

	t.Run("matching checkout proceeds", func(t *testing.T) {
		runner := &git.FakeRunner{
			Branch: "stable",
			Clean:  true,
			Branches: map[string]bool{
				"stable-patches": true,
			},
			Ancestry: map[string][]string{
				"abc123..stable-patches": {"c1", "c2"},
			},
			PatchFiles: map[string][]string{
				"c1..stable-patches": {"0001-Stable-fix.patch"},
			},
		}
		f := setup(t, testSpec, runner)
		f.cfg.Branch = "stable"

		res, err := f.syncer.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "stable", res.Branch)
		assert.Equal(t, []string{"0001-Stable-fix.patch"}, res.Exported)
		assert.Equal(t, []string{"Updated patches from stable-patches"}, runner.AmendedMsg)
	})
}

func TestRunFilterMissing(t *testing.T) {
	runner := &git.FakeRunner{Branch: "master", Clean: true}
	f := setup(t, testSpec, runner)
	f.filter.available = false

	_, err := f.syncer.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, errors.ExitCode(err))
	assert.True(t, errors.Is(err, errors.ErrToolMissing))
	assert.Empty(t, runner.Calls)
}

func TestRunEmptyRange(t *testing.T) {
	specWithPatches := `Name: widget
# patches_base=root
Patch0001: 0001-stale.patch
%prep
%setup -q
%patch0001 -p1
`
	runner := &git.FakeRunner{
		Branch: "master",
		Clean:  true,
		Branches: map[string]bool{
			"master-patches": true,
		},
		Ancestry: map[string][]string{},
	}
	f := setup(t, specWithPatches, runner)

	res, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Exported)
	assert.Empty(t, res.StartCommit)

	// Cleanup still ran: old directives gone, nothing inserted.
	spec := readSpec(t, f)
	assert.NotContains(t, spec, "0001-stale.patch")
	assert.NotContains(t, spec, "%patch")
	assert.Contains(t, spec, "# patches_base=root")

	assert.Equal(t, []string{"Updated patches from master-patches"}, runner.AmendedMsg)

	run, err := f.journal.Get(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, journal.OutcomeEmpty, run.Outcome)
}

func TestRunArchivesRemovedPatches(t *testing.T) {
	runner := &git.FakeRunner{
		Branch: "master",
		Clean:  true,
		Branches: map[string]bool{
			"master-patches": true,
		},
		Tracked: []string{"0001-old.patch"},
	}
	f := setup(t, testSpec, runner)

	oldBody := []byte("diff --git a/widget.c b/widget.c\n")
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "0001-old.patch"), oldBody, 0644))

	res, err := f.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001-old.patch"}, res.Removed)

	require.Len(t, runner.RemovedSet, 1)
	assert.Equal(t, []string{"0001-old.patch"}, runner.RemovedSet[0])

	got, err := f.journal.Patch(res.RunID, "0001-old.patch")
	require.NoError(t, err)
	assert.Equal(t, oldBody, got)
}

func TestRunGitFailurePropagates(t *testing.T) {
	runner := &git.FakeRunner{
		Branch: "master",
		Clean:  true,
		Branches: map[string]bool{
			"master-patches": true,
		},
		FailOp: "checkout",
		Fail:   errors.Tool("git checkout: boom", 128, nil),
	}
	f := setup(t, testSpec, runner)

	_, err := f.syncer.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 128, errors.ExitCode(err))

	runs, jerr := f.journal.List()
	require.NoError(t, jerr)
	require.Len(t, runs, 1)
	assert.Equal(t, journal.OutcomeFailed, runs[0].Outcome)
}
