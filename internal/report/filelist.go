package report

import (
	"bufio"
	"io"

	"github.com/ci-tools/grcovgo/internal/filter"
	"github.com/ci-tools/grcovgo/internal/merge"
)

// WriteFileList emits the plain covered/uncovered file list, one path per
// line, covered files first, grounded on output.rs's output_files.
func WriteFileList(entries []merge.Entry, w io.Writer) error {
	bw := bufio.NewWriter(w)

	sorted := sortedEntries(entries)

	for _, entry := range sorted {
		if filter.IsCovered(entry.Result) {
			if _, err := bw.WriteString(entry.RelPath + "\n"); err != nil {
				return err
			}
		}
	}
	for _, entry := range sorted {
		if !filter.IsCovered(entry.Result) {
			if _, err := bw.WriteString(entry.RelPath + "\n"); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}
