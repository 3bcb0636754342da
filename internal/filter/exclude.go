// Package filter implements source-exclusion directive scanning, the
// is_covered file-level predicate, and summary statistics, grounded on
// original_source/src/file_filter.rs and src/filter.rs.
package filter

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies what a source line is excluded from.
type Kind int

const (
	// Line excludes a line's coverage data entirely.
	Line Kind = iota
	// Branch excludes only a line's branch coverage data.
	Branch
	// Both excludes both line and branch coverage data.
	Both
)

// Exclusion is one excluded source line and what it's excluded from.
type Exclusion struct {
	LineNumber uint32
	Kind       Kind
}

// Config holds the six exclusion-directive regexes, any of which may be
// nil to disable that directive.
type Config struct {
	ExclLine    *regexp.Regexp
	ExclStart   *regexp.Regexp
	ExclStop    *regexp.Regexp
	ExclBrLine  *regexp.Regexp
	ExclBrStart *regexp.Regexp
	ExclBrStop  *regexp.Regexp
}

func matches(re *regexp.Regexp, line string) bool {
	return re != nil && re.MatchString(line)
}

// Active reports whether any exclusion directive is configured; when
// false, Scan always returns no exclusions without touching the
// filesystem.
func (c Config) Active() bool {
	return c.ExclLine != nil || c.ExclStart != nil || c.ExclBrLine != nil || c.ExclBrStart != nil
}

// Scan reads a source file and returns the set of excluded lines,
// applying start/stop range toggling for ExclStart/ExclStop and
// ExclBrStart/ExclBrStop independently before falling back to the
// per-line ExclLine/ExclBrLine directives.
func (c Config) Scan(path string) ([]Exclusion, error) {
	if !c.Active() {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		// A source file that can't be read simply contributes no
		// exclusions, matching the reference implementation.
		return nil, nil
	}
	defer f.Close()

	var out []Exclusion
	var ignoreBr, ignore bool

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	number := uint32(0)
	for scanner.Scan() {
		number++
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if ignoreBr && matches(c.ExclBrStop, line) {
			ignoreBr = false
		}
		if ignore && matches(c.ExclStop, line) {
			ignore = false
		}
		if matches(c.ExclBrStart, line) {
			ignoreBr = true
		}
		if matches(c.ExclStart, line) {
			ignore = true
		}

		switch {
		case ignoreBr && ignore:
			out = append(out, Exclusion{LineNumber: number, Kind: Both})
		case ignoreBr:
			out = append(out, Exclusion{LineNumber: number, Kind: Branch})
		case ignore:
			out = append(out, Exclusion{LineNumber: number, Kind: Line})
		case matches(c.ExclBrLine, line):
			if matches(c.ExclLine, line) {
				out = append(out, Exclusion{LineNumber: number, Kind: Both})
			} else {
				out = append(out, Exclusion{LineNumber: number, Kind: Branch})
			}
		case matches(c.ExclLine, line):
			out = append(out, Exclusion{LineNumber: number, Kind: Line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning source file for exclusion directives")
	}

	return out, nil
}
