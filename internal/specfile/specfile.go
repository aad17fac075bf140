package specfile

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Base is the parsed "# patches_base=<ref>[+<skip>]" metadata.
type Base struct {
	Ref  string
	Skip int
}

var (
	baseRe  = regexp.MustCompile(`^#\s*patches_base\s*=\s*(\S+)`)
	declRe  = regexp.MustCompile(`^#?\s*Patch\d+\s*:\s*(\S+)`)
	applyRe = regexp.MustCompile(`^#?\s*%patch\d+\b`)
	setupRe = regexp.MustCompile(`^%setup\b`)
)

// File is a spec file reduced to the parts the sync cares about: the
// surrounding text with every patch directive stripped out, the two
// insertion anchors, and the metadata parsed from the patches_base line.
// Serialize re-emits the surrounding text with a freshly numbered
// directive block, so rewriting is a parse/mutate/serialize round trip
// rather than line-pattern surgery.
type File struct {
	Path string
	Base Base

	// Patches are the file names referenced by the removed declaration
	// directives, in order of appearance.
	Patches []string

	lines    []string // spec lines minus directive lines
	baseIdx  int      // index of the patches_base line in lines
	setupIdx int      // index of the %setup line in lines, -1 if absent
}

// ParseBase splits a patches_base value on its last '+'. A numeric suffix
// is the skip count; anything else makes the whole value the ref.
func ParseBase(value string) Base {
	i := strings.LastIndex(value, "+")
	if i <= 0 {
		return Base{Ref: value}
	}
	skip, err := strconv.Atoi(value[i+1:])
	if err != nil || skip < 0 {
		return Base{Ref: value}
	}
	return Base{Ref: value[:i], Skip: skip}
}

// Parse reads and parses a spec file.
func Parse(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec: %w", err)
	}
	f, err := parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

func parse(content string) (*File, error) {
	f := &File{baseIdx: -1, setupIdx: -1}

	content = strings.TrimSuffix(content, "\n")
	for _, line := range strings.Split(content, "\n") {
		if m := declRe.FindStringSubmatch(line); m != nil {
			if !strings.HasPrefix(line, "#") {
				f.Patches = append(f.Patches, m[1])
			}
			continue
		}
		if applyRe.MatchString(line) {
			continue
		}
		if f.baseIdx < 0 {
			if m := baseRe.FindStringSubmatch(line); m != nil {
				f.baseIdx = len(f.lines)
				f.Base = ParseBase(m[1])
			}
		}
		if f.setupIdx < 0 && setupRe.MatchString(line) {
			f.setupIdx = len(f.lines)
		}
		f.lines = append(f.lines, line)
	}

	if f.baseIdx < 0 {
		return nil, fmt.Errorf("no patches_base metadata line")
	}
	return f, nil
}

// Serialize renders the spec with a directive block for the given patch
// names: declarations right after the patches_base line, apply lines right
// after %setup, numbered in lock-step from 0001. An empty list leaves the
// spec with no directives at all.
func (f *File) Serialize(patches []string) (string, error) {
	if len(patches) > 0 && f.setupIdx < 0 {
		return "", fmt.Errorf("no %%setup line to anchor %%patch directives")
	}

	var b strings.Builder
	for i, line := range f.lines {
		b.WriteString(line)
		b.WriteByte('\n')
		if i == f.baseIdx {
			for n, name := range patches {
				fmt.Fprintf(&b, "Patch%04d: %s\n", n+1, name)
			}
		}
		if i == f.setupIdx {
			for n := range patches {
				fmt.Fprintf(&b, "%%patch%04d -p1\n", n+1)
			}
		}
	}
	return b.String(), nil
}

// Rewrite replaces the directive block on disk.
func (f *File) Rewrite(patches []string) error {
	content, err := f.Serialize(patches)
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.Path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing spec: %w", err)
	}
	return nil
}
