package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config carries every piece of ambient state the sync needs, so that no
// component reads the environment on its own.
type Config struct {
	// Branch is the packaging branch being updated. Empty means "whatever
	// is currently checked out", resolved at startup.
	Branch string `json:"branch"`

	// PatchesBranch overrides the default "<branch>-patches" name.
	PatchesBranch string `json:"patches_branch"`

	// SpecTools are probed in order; the first one found on PATH is asked
	// for the spec file name.
	SpecTools []string `json:"spec_tools"`

	// FilterTool strips unwanted hunks from exported patches.
	FilterTool string `json:"filter_tool"`

	// JournalPath holds the run journal, relative to the repository root.
	JournalPath string `json:"journal_path"`

	LogLevel string `json:"log_level"` // debug, info, warn, error
}

const fileName = ".patchsync.json"

func Default() *Config {
	return &Config{
		SpecTools:   []string{"rhpkg", "fedpkg"},
		FilterTool:  "filterdiff",
		JournalPath: filepath.Join(".git", "patchsync"),
		LogLevel:    "info",
	}
}

// Load reads the repo-local config file, falling back to defaults when the
// file does not exist.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(filepath.Join(repoRoot, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", fileName, err)
	}
	if len(cfg.SpecTools) == 0 {
		cfg.SpecTools = Default().SpecTools
	}
	if cfg.FilterTool == "" {
		cfg.FilterTool = Default().FilterTool
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = Default().JournalPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = Default().LogLevel
	}

	return cfg, nil
}

// PatchesBranchFor returns the patches branch paired with branch.
func (c *Config) PatchesBranchFor(branch string) string {
	if c.PatchesBranch != "" {
		return c.PatchesBranch
	}
	return branch + "-patches"
}
