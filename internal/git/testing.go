package git

import (
	"context"
	"fmt"
)

// FakeRunner implements Runner for tests. Behavior is driven by its
// fields; every method appends to Calls so tests can assert ordering.
type FakeRunner struct {
	Dir      string
	Branch   string
	Clean    bool
	Branches map[string]bool
	Revs     map[string]string
	Subjects map[string]string

	// Ancestry maps "base..tip" to an oldest-first commit list.
	Ancestry map[string][]string
	// PatchFiles maps "start..tip" to the file names format-patch yields.
	PatchFiles map[string][]string
	// Tracked is what TrackedPatches returns.
	Tracked []string

	Calls      []string
	CheckedOut []string
	Committed  []string
	AmendedMsg []string
	Staged     [][]string
	RemovedSet [][]string

	// Fail, when set, makes the named operation return this error.
	Fail   error
	FailOp string
}

var _ Runner = (*FakeRunner)(nil)

func (f *FakeRunner) record(op string) error {
	f.Calls = append(f.Calls, op)
	if f.Fail != nil && f.FailOp == op {
		return f.Fail
	}
	return nil
}

func (f *FakeRunner) Root(ctx context.Context) (string, error) {
	return f.Dir, f.record("root")
}

func (f *FakeRunner) CurrentBranch(ctx context.Context) (string, error) {
	return f.Branch, f.record("current-branch")
}

func (f *FakeRunner) IsClean(ctx context.Context) (bool, error) {
	return f.Clean, f.record("is-clean")
}

func (f *FakeRunner) BranchExists(ctx context.Context, branch string) (bool, error) {
	return f.Branches[branch], f.record("branch-exists")
}

func (f *FakeRunner) RevParse(ctx context.Context, ref string) (string, error) {
	if err := f.record("rev-parse"); err != nil {
		return "", err
	}
	if id, ok := f.Revs[ref]; ok {
		return id, nil
	}
	return "", fmt.Errorf("unknown ref %s", ref)
}

func (f *FakeRunner) Subject(ctx context.Context, commit string) (string, error) {
	return f.Subjects[commit], f.record("subject")
}

func (f *FakeRunner) AncestryPath(ctx context.Context, base, tip string) ([]string, error) {
	if err := f.record("ancestry-path"); err != nil {
		return nil, err
	}
	return f.Ancestry[base+".."+tip], nil
}

func (f *FakeRunner) FormatPatch(ctx context.Context, start, tip string) ([]string, error) {
	if err := f.record("format-patch"); err != nil {
		return nil, err
	}
	return f.PatchFiles[start+".."+tip], nil
}

func (f *FakeRunner) TrackedPatches(ctx context.Context) ([]string, error) {
	return f.Tracked, f.record("tracked-patches")
}

func (f *FakeRunner) Checkout(ctx context.Context, branch string) error {
	f.CheckedOut = append(f.CheckedOut, branch)
	return f.record("checkout")
}

func (f *FakeRunner) Remove(ctx context.Context, paths []string) error {
	f.RemovedSet = append(f.RemovedSet, paths)
	return f.record("remove")
}

func (f *FakeRunner) Add(ctx context.Context, paths []string) error {
	f.Staged = append(f.Staged, paths)
	return f.record("add")
}

func (f *FakeRunner) Commit(ctx context.Context, message string) error {
	f.Committed = append(f.Committed, message)
	return f.record("commit")
}

func (f *FakeRunner) Amend(ctx context.Context, message string) error {
	f.AmendedMsg = append(f.AmendedMsg, message)
	return f.record("amend")
}
