package specfile

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"patchsync/internal/errors"
)

// Locator names the spec file for the current tree.
type Locator interface {
	Locate(ctx context.Context) (string, error)
}

// ToolLocator asks the distribution packaging tool (rhpkg, fedpkg) for the
// spec file name. The first tool found on PATH wins.
type ToolLocator struct {
	Dir    string
	Tools  []string
	logger *zap.Logger
}

func NewToolLocator(dir string, tools []string, logger *zap.Logger) *ToolLocator {
	return &ToolLocator{Dir: dir, Tools: tools, logger: logger}
}

func (l *ToolLocator) Locate(ctx context.Context) (string, error) {
	tool := ""
	for _, candidate := range l.Tools {
		if _, err := exec.LookPath(candidate); err == nil {
			tool = candidate
			break
		}
	}
	if tool == "" {
		return "", errors.Precondition(
			fmt.Sprintf("No packaging tool available (tried: %s)", strings.Join(l.Tools, ", ")),
			errors.ErrToolMissing,
		)
	}
	if l.logger != nil {
		l.logger.Debug("using packaging tool", zap.String("tool", tool))
	}

	cmd := exec.CommandContext(ctx, tool, "gimmespec")
	cmd.Dir = l.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		code := 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return "", errors.Tool(
			fmt.Sprintf("%s gimmespec: %s", tool, strings.TrimSpace(stderr.String())),
			code, err,
		)
	}

	name := strings.TrimSpace(stdout.String())
	if name == "" {
		return "", errors.Internal(fmt.Sprintf("%s gimmespec returned no spec file", tool), nil)
	}
	return filepath.Join(l.Dir, name), nil
}
