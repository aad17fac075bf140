package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"patchsync/internal/errors"
)

// Runner is the narrow set of version-control operations the sync needs.
// Implementations shell out to git; tests substitute a fake.
type Runner interface {
	// Root returns the top-level directory of the repository.
	Root(ctx context.Context) (string, error)
	// CurrentBranch returns the name of the checked-out branch.
	CurrentBranch(ctx context.Context) (string, error)
	// IsClean reports whether the working tree has no uncommitted changes.
	IsClean(ctx context.Context) (bool, error)
	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, branch string) (bool, error)
	// RevParse resolves a ref to a full commit id.
	RevParse(ctx context.Context, ref string) (string, error)
	// Subject returns the one-line subject of a commit.
	Subject(ctx context.Context, commit string) (string, error)
	// AncestryPath lists commit ids on the ancestry path strictly after
	// base up to tip, oldest first.
	AncestryPath(ctx context.Context, base, tip string) ([]string, error)
	// FormatPatch writes one patch file per commit in start..tip into the
	// working directory and returns the file names in commit order.
	FormatPatch(ctx context.Context, start, tip string) ([]string, error)
	// TrackedPatches lists tracked *.patch files in the repository root.
	TrackedPatches(ctx context.Context) ([]string, error)
	// Checkout switches to the named branch.
	Checkout(ctx context.Context, branch string) error
	// Remove removes tracked files from the index and working tree.
	Remove(ctx context.Context, paths []string) error
	// Add stages files.
	Add(ctx context.Context, paths []string) error
	// Commit records a commit; empty trees are allowed.
	Commit(ctx context.Context, message string) error
	// Amend folds staged changes into the previous commit, replacing its
	// message.
	Amend(ctx context.Context, message string) error
}

// ExecRunner runs git as a subprocess, rooted at Dir.
type ExecRunner struct {
	Dir    string
	logger *zap.Logger

	// Resolved refs are immutable for the lifetime of a run, so repeated
	// rev-parse and subject lookups hit this cache.
	revs *lru.Cache[string, string]
}

func NewExecRunner(dir string, logger *zap.Logger) (*ExecRunner, error) {
	revs, err := lru.New[string, string](256)
	if err != nil {
		return nil, fmt.Errorf("creating rev cache: %w", err)
	}
	return &ExecRunner{Dir: dir, logger: logger, revs: revs}, nil
}

// run executes git with args and returns trimmed stdout. Non-zero exits
// surface as tool errors carrying git's own exit code.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		if r.logger != nil {
			r.logger.Debug("git failed",
				zap.Strings("args", args),
				zap.Int("code", code),
				zap.String("stderr", msg),
			)
		}
		return "", errors.Tool(fmt.Sprintf("git %s: %s", strings.Join(args, " "), msg), code, err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// lines splits non-empty trimmed output into lines.
func lines(out string) []string {
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func (r *ExecRunner) Root(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--show-toplevel")
}

func (r *ExecRunner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func (r *ExecRunner) IsClean(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

func (r *ExecRunner) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := r.run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) && e.Type == errors.ErrorTypeTool {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *ExecRunner) RevParse(ctx context.Context, ref string) (string, error) {
	if id, ok := r.revs.Get("rev:" + ref); ok {
		return id, nil
	}
	id, err := r.run(ctx, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", err
	}
	r.revs.Add("rev:"+ref, id)
	return id, nil
}

func (r *ExecRunner) Subject(ctx context.Context, commit string) (string, error) {
	if s, ok := r.revs.Get("subj:" + commit); ok {
		return s, nil
	}
	s, err := r.run(ctx, "log", "-1", "--format=%s", commit)
	if err != nil {
		return "", err
	}
	r.revs.Add("subj:"+commit, s)
	return s, nil
}

func (r *ExecRunner) AncestryPath(ctx context.Context, base, tip string) ([]string, error) {
	out, err := r.run(ctx, "log", "--ancestry-path", "--reverse", "--format=%H", base+".."+tip)
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

func (r *ExecRunner) FormatPatch(ctx context.Context, start, tip string) ([]string, error) {
	out, err := r.run(ctx, "format-patch", "--no-signature", start+".."+tip)
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

func (r *ExecRunner) TrackedPatches(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "ls-files", "--", "*.patch")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

func (r *ExecRunner) Checkout(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "checkout", "--quiet", branch)
	return err
}

func (r *ExecRunner) Remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"rm", "--quiet", "--"}, paths...)
	_, err := r.run(ctx, args...)
	return err
}

func (r *ExecRunner) Add(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	_, err := r.run(ctx, args...)
	return err
}

func (r *ExecRunner) Commit(ctx context.Context, message string) error {
	_, err := r.run(ctx, "commit", "--quiet", "--allow-empty", "-m", message)
	return err
}

func (r *ExecRunner) Amend(ctx context.Context, message string) error {
	_, err := r.run(ctx, "commit", "--quiet", "--allow-empty", "--amend", "-m", message)
	return err
}

// IsRepository checks if the given path is inside a git work tree.
func IsRepository(path string) bool {
	cmd := exec.Command("git", "-C", path, "rev-parse", "--is-inside-work-tree")
	return cmd.Run() == nil
}
