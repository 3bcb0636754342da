package report

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/ci-tools/grcovgo/internal/merge"
)

// WriteLCOV emits an LCOV tracefile, grounded on output.rs's
// output_lcov.
func WriteLCOV(entries []merge.Entry, w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString("TN:\n"); err != nil {
		return err
	}

	for _, entry := range sortedEntries(entries) {
		result := entry.Result
		fmt.Fprintf(bw, "SF:%s\n", entry.RelPath)

		var names []string
		for name := range result.Functions {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			fmt.Fprintf(bw, "FN:%d,%s\n", result.Functions[name].Start, name)
		}
		for _, name := range names {
			exec := 0
			if result.Functions[name].Executed {
				exec = 1
			}
			fmt.Fprintf(bw, "FNDA:%d,%s\n", exec, name)
		}
		if len(names) > 0 {
			hit := 0
			for _, name := range names {
				if result.Functions[name].Executed {
					hit++
				}
			}
			fmt.Fprintf(bw, "FNF:%d\n", len(names))
			fmt.Fprintf(bw, "FNH:%d\n", hit)
		}

		branchHit := 0
		for _, b := range result.Branches() {
			taken := "-"
			if b.Taken {
				taken = "1"
				branchHit++
			}
			fmt.Fprintf(bw, "BRDA:%d,0,%d,%s\n", b.Key.Line, b.Key.Branch, taken)
		}
		fmt.Fprintf(bw, "BRF:%d\n", len(result.Branches()))
		fmt.Fprintf(bw, "BRH:%d\n", branchHit)

		lineHit := 0
		lines := result.Lines()
		for _, l := range lines {
			fmt.Fprintf(bw, "DA:%d,%d\n", l.Line, l.Count)
			if l.Count > 0 {
				lineHit++
			}
		}
		fmt.Fprintf(bw, "LF:%d\n", len(lines))
		fmt.Fprintf(bw, "LH:%d\n", lineHit)

		if _, err := bw.WriteString("end_of_record\n"); err != nil {
			return err
		}
	}

	return bw.Flush()
}
