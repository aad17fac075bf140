package patches

import (
	"context"

	"go.uber.org/zap"

	"patchsync/internal/git"
)

// Exporter turns a commit range into filtered patch files in the working
// tree.
type Exporter struct {
	runner git.Runner
	filter Filter
	logger *zap.Logger
}

func NewExporter(runner git.Runner, filter Filter, logger *zap.Logger) *Exporter {
	return &Exporter{runner: runner, filter: filter, logger: logger}
}

// Export writes one patch file per commit in start..tip, oldest first, and
// filters each one in place. Returns the patch file names in commit order.
func (e *Exporter) Export(ctx context.Context, start, tip string) ([]string, error) {
	files, err := e.runner.FormatPatch(ctx, start, tip)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if err := e.filter.Apply(ctx, f); err != nil {
			return nil, err
		}
		if e.logger != nil {
			e.logger.Debug("exported patch", zap.String("file", f))
		}
	}

	return files, nil
}
