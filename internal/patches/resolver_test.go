package patches

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchsync/internal/git"
	"patchsync/internal/specfile"
)

func runnerWithPath(path []string) *git.FakeRunner {
	return &git.FakeRunner{
		Ancestry: map[string][]string{
			"base..tip": path,
		},
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("picks entry at L-S-1", func(t *testing.T) {
		tests := []struct {
			length int
			skip   int
			want   int // expected index, -1 for none
		}{
			{4, 0, 3},
			{4, 1, 2},
			{4, 3, 0},
			{4, 4, -1},
			{4, 5, -1},
			{1, 0, 0},
			{1, 1, -1},
			{0, 0, -1},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprintf("L=%d S=%d", tt.length, tt.skip), func(t *testing.T) {
				path := make([]string, tt.length)
				for i := range path {
					path[i] = fmt.Sprintf("c%d", i+1)
				}
				runner := runnerWithPath(path)

				start, ok, err := Resolve(ctx, runner, specfile.Base{Ref: "base", Skip: tt.skip}, "tip")
				require.NoError(t, err)
				if tt.want < 0 {
					assert.False(t, ok)
					assert.Empty(t, start)
				} else {
					assert.True(t, ok)
					assert.Equal(t, path[tt.want], start)
				}
			})
		}
	})

	t.Run("four commits skip one starts at third", func(t *testing.T) {
		runner := runnerWithPath([]string{"c1", "c2", "c3", "c4"})

		start, ok, err := Resolve(ctx, runner, specfile.Base{Ref: "base", Skip: 1}, "tip")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "c3", start)
	})

	t.Run("git failure propagates", func(t *testing.T) {
		runner := runnerWithPath(nil)
		runner.FailOp = "ancestry-path"
		runner.Fail = fmt.Errorf("boom")

		_, _, err := Resolve(ctx, runner, specfile.Base{Ref: "base"}, "tip")
		assert.Error(t, err)
	})
}

func TestExport(t *testing.T) {
	ctx := context.Background()

	t.Run("filters every exported file in order", func(t *testing.T) {
		runner := &git.FakeRunner{
			PatchFiles: map[string][]string{
				"c3..tip": {"0001-first.patch", "0002-second.patch"},
			},
		}
		filter := &fakeFilter{}

		files, err := NewExporter(runner, filter, nil).Export(ctx, "c3", "tip")
		require.NoError(t, err)
		assert.Equal(t, []string{"0001-first.patch", "0002-second.patch"}, files)
		assert.Equal(t, files, filter.applied)
	})

	t.Run("empty range exports nothing", func(t *testing.T) {
		runner := &git.FakeRunner{PatchFiles: map[string][]string{}}
		filter := &fakeFilter{}

		files, err := NewExporter(runner, filter, nil).Export(ctx, "tip", "tip")
		require.NoError(t, err)
		assert.Empty(t, files)
		assert.Empty(t, filter.applied)
	})

	t.Run("filter failure aborts", func(t *testing.T) {
		runner := &git.FakeRunner{
			PatchFiles: map[string][]string{
				"c1..tip": {"0001-a.patch"},
			},
		}
		filter := &fakeFilter{err: fmt.Errorf("no filterdiff")}

		_, err := NewExporter(runner, filter, nil).Export(ctx, "c1", "tip")
		assert.Error(t, err)
	})
}

type fakeFilter struct {
	applied []string
	err     error
}

func (f *fakeFilter) Available() bool { return true }

func (f *fakeFilter) Apply(ctx context.Context, path string) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, path)
	return nil
}
