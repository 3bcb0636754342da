// Package textcov parses the text-based coverage formats the pipeline
// accepts as input: LCOV tracefiles, gcov's legacy and intermediate text
// dumps, and Jacoco XML reports. Each parser except ParseLegacyText
// produces a covmodel.CovResultMap keyed by the source path as recorded in
// the file itself; ParseLegacyText returns that path alongside a single
// CovResult. Path rewriting happens later, in internal/merge.
package textcov

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ci-tools/grcovgo/internal/covmodel"
)

// ParseLCOV reads an LCOV tracefile (SF/FN/FNDA/DA/BRDA/end_of_record),
// grounded on original_source/src/parser.rs's parse_lcov. DA execution
// counts add across repeated records for the same line within a section,
// FNDA executed flags OR, and BRDA taken bits OR — mirroring the
// BTreeMap entry semantics of the reference parser.
func ParseLCOV(r io.Reader, branchEnabled bool) (covmodel.CovResultMap, error) {
	out := make(covmodel.CovResultMap)

	var curFile string
	var cur *covmodel.CovResult

	reset := func() {
		curFile = ""
		cur = nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "end_of_record" {
			if cur != nil {
				cur.Densify()
				if existing, ok := out[curFile]; ok {
					existing.Merge(cur)
				} else {
					out[curFile] = cur
				}
			}
			reset()
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}

		switch key {
		case "SF":
			curFile = value
			cur = covmodel.NewCovResult()

		case "DA":
			if cur == nil {
				continue
			}
			parts := strings.SplitN(value, ",", 3)
			if len(parts) < 2 {
				return nil, errors.Errorf("malformed DA record: %q", line)
			}
			lineNo, err := strconv.ParseUint(parts[0], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing DA line number in %q", line)
			}
			if parts[1] == "0" || strings.HasPrefix(parts[1], "-") {
				if !cur.HasLine(uint32(lineNo)) {
					cur.SetLine(uint32(lineNo), 0)
				}
				continue
			}
			count, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing DA execution count in %q", line)
			}
			cur.AddLine(uint32(lineNo), count)

		case "FN":
			if cur == nil {
				continue
			}
			parts := strings.SplitN(value, ",", 2)
			if len(parts) != 2 {
				return nil, errors.Errorf("malformed FN record: %q", line)
			}
			start, err := strconv.ParseUint(parts[0], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing FN start line in %q", line)
			}
			cur.Functions[parts[1]] = &covmodel.Function{Start: uint32(start)}

		case "FNDA":
			if cur == nil {
				continue
			}
			parts := strings.SplitN(value, ",", 2)
			if len(parts) != 2 {
				return nil, errors.Errorf("malformed FNDA record: %q", line)
			}
			fn, ok := cur.Functions[parts[1]]
			if !ok {
				return nil, errors.Errorf("FN record missing for function %s", parts[1])
			}
			fn.Executed = fn.Executed || parts[0] != "0"

		case "BRDA":
			if !branchEnabled || cur == nil {
				continue
			}
			parts := strings.SplitN(value, ",", 4)
			if len(parts) != 4 {
				return nil, errors.Errorf("malformed BRDA record: %q", line)
			}
			lineNo, err := strconv.ParseUint(parts[0], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing BRDA line number in %q", line)
			}
			branchNo, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, errors.Wrapf(err, "parsing BRDA branch number in %q", line)
			}
			taken := parts[3] != "-"
			cur.SetBranch(covmodel.BranchKey{Line: uint32(lineNo), Branch: branchNo}, taken)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	if cur != nil {
		cur.Densify()
		if existing, ok := out[curFile]; ok {
			existing.Merge(cur)
		} else {
			out[curFile] = cur
		}
	}

	return out, nil
}
