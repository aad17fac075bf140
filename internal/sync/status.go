package sync

import (
	"context"
	"fmt"

	"patchsync/internal/errors"
	"patchsync/internal/patches"
	"patchsync/internal/specfile"
)

// PendingCommit is a commit that a sync run would export.
type PendingCommit struct {
	ID      string
	Subject string
}

// Status reports what a run would do without touching the tree.
type Status struct {
	Branch        string
	PatchesBranch string
	SpecPath      string
	Base          specfile.Base
	BaseCommit    string
	StartCommit   string
	Pending       []PendingCommit
	Existing      []string
}

// Status resolves the commit range read-only. No branch is switched and
// nothing is written; the clean-tree precondition is deliberately not
// enforced here.
func (s *Syncer) Status(ctx context.Context) (*Status, error) {
	branch := s.cfg.Branch
	if branch == "" {
		var err error
		branch, err = s.runner.CurrentBranch(ctx)
		if err != nil {
			return nil, err
		}
	}
	patchesBranch := s.cfg.PatchesBranchFor(branch)

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

	// Resolving the base up front surfaces a stale or mistyped
	// patches_base before any range arithmetic runs.
	baseCommit, err := s.runner.RevParse(ctx, spec.Base.Ref)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Branch:        branch,
		PatchesBranch: patchesBranch,
		SpecPath:      spec.Path,
		Base:          spec.Base,
		BaseCommit:    baseCommit,
		Existing:      spec.Patches,
	}

	start, ok, err := patches.Resolve(ctx, s.runner, spec.Base, patchesBranch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return st, nil
	}
	st.StartCommit = start

	path, err := s.runner.AncestryPath(ctx, start, patchesBranch)
	if err != nil {
		return nil, err
	}
	for _, id := range path {
		subject, err := s.runner.Subject(ctx, id)
		if err != nil {
			return nil, err
		}
		st.Pending = append(st.Pending, PendingCommit{ID: id, Subject: subject})
	}

	return st, nil
}
