// Package report implements the coverage report emitters: LCOV,
// ActiveData-ETL, Coveralls, Cobertura, CovDir, and a plain covered/
// uncovered file list. Each emitter consumes the path-rewritten entries
// produced by internal/merge and writes to an io.Writer, grounded on
// original_source/src/{output,cobertura,covdir}.rs.
package report

import (
	"sort"

	"github.com/ci-tools/grcovgo/internal/covmodel"
	"github.com/ci-tools/grcovgo/internal/merge"
)

// functionRange is a function's line span: [Start, End), where End is
// the start line of the next function in the file (or one past the
// file's last known line).
type functionRange struct {
	Name     string
	Function *covmodel.Function
	End      uint32
}

// functionRanges returns each function's line range and the set of line
// numbers that belong to no function ("orphan" lines), grounded on
// output.rs's get_coverage / output_activedata_etl function-boundary
// logic: a function's range ends where the next-highest function start
// begins.
func functionRanges(result *covmodel.CovResult) ([]functionRange, map[uint32]bool) {
	lines := result.Lines()
	end := uint32(0)
	if len(lines) > 0 {
		end = lines[len(lines)-1].Line + 1
		for _, e := range lines {
			if e.Line+1 > end {
				end = e.Line + 1
			}
		}
	}

	var starts []uint32
	for _, fn := range result.Functions {
		starts = append(starts, fn.Start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	orphan := make(map[uint32]bool, len(lines))
	for _, e := range lines {
		orphan[e.Line] = true
	}

	var names []string
	for name := range result.Functions {
		names = append(names, name)
	}
	sort.Strings(names)

	ranges := make([]functionRange, 0, len(names))
	for _, name := range names {
		fn := result.Functions[name]
		funcEnd := end
		for _, s := range starts {
			if s > fn.Start {
				funcEnd = s
				break
			}
		}
		for _, e := range lines {
			if e.Line >= fn.Start && e.Line < funcEnd {
				delete(orphan, e.Line)
			}
		}
		ranges = append(ranges, functionRange{Name: name, Function: fn, End: funcEnd})
	}

	return ranges, orphan
}

// sortedEntries returns entries sorted by relative path, for
// deterministic report output.
func sortedEntries(entries []merge.Entry) []merge.Entry {
	out := make([]merge.Entry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}
