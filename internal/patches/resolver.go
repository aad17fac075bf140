package patches

import (
	"context"

	"go.uber.org/zap"

	"patchsync/internal/git"
	"patchsync/internal/specfile"
)

// Resolve computes the commit patches are exported from. The ancestry path
// from base.Ref to tip is listed oldest first, the last base.Skip entries
// are dropped, and the last remaining entry is the start commit. Export
// then covers everything strictly after it up to tip.
//
// The skip arithmetic is a compatibility contract with existing spec files;
// boundary behavior (skip = L, skip = L-1) must stay exactly as written.
//
// ok is false when the path is empty or the skip count consumes it; that is
// a soft condition, not an error.
func Resolve(ctx context.Context, runner git.Runner, base specfile.Base, tip string) (start string, ok bool, err error) {
	path, err := runner.AncestryPath(ctx, base.Ref, tip)
	if err != nil {
		return "", false, err
	}
	if len(path) == 0 || base.Skip >= len(path) {
		return "", false, nil
	}
	return path[len(path)-base.Skip-1], true, nil
}

// ResolveLogged is Resolve with the soft condition reported as a warning.
func ResolveLogged(ctx context.Context, runner git.Runner, base specfile.Base, tip string, logger *zap.Logger) (string, bool, error) {
	start, ok, err := Resolve(ctx, runner, base, tip)
	if err != nil {
		return "", false, err
	}
	if !ok && logger != nil {
		logger.Warn("no commits to export",
			zap.String("base", base.Ref),
			zap.Int("skip", base.Skip),
			zap.String("tip", tip),
		)
	}
	return start, ok, nil
}
