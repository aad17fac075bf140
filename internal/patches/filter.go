package patches

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"patchsync/internal/errors"
)

// Filter rewrites a patch file in place, dropping unwanted hunks. File
// identity (the name) is preserved; a patch left empty by filtering is
// kept, never dropped.
type Filter interface {
	// Available reports whether the filter can run at all.
	Available() bool
	// Apply filters one patch file in place.
	Apply(ctx context.Context, path string) error
}

// FilterDiff shells out to patchutils' filterdiff to strip hunks whose
// path starts with a dot segment. The packaging tree does not track
// hidden files, so such hunks would fail to apply.
type FilterDiff struct {
	Tool string
}

func NewFilterDiff(tool string) *FilterDiff {
	if tool == "" {
		tool = "filterdiff"
	}
	return &FilterDiff{Tool: tool}
}

func (f *FilterDiff) Available() bool {
	_, err := exec.LookPath(f.Tool)
	return err == nil
}

func (f *FilterDiff) Apply(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, f.Tool, "-p1", "-x", ".*", path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return errors.Tool(
			fmt.Sprintf("%s %s: %s", f.Tool, path, strings.TrimSpace(stderr.String())),
			code, err,
		)
	}

	if err := os.WriteFile(path, stdout.Bytes(), 0644); err != nil {
		return fmt.Errorf("rewriting %s: %w", path, err)
	}
	return nil
}
