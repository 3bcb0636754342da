package report

import (
	"encoding/json"
	"io"

	"github.com/ci-tools/grcovgo/internal/merge"
)

// etlCoverage is one ActiveData-ETL coverage record: either scoped to a
// single function's line range, or (when Method is nil) to the file's
// "orphan" lines that belong to no function.
type etlCoverage struct {
	Lines   []int `json:"lines"`
	Covered []int `json:"covered"`
	UncoveredLines []int `json:"uncovered"`
}

type etlMethod struct {
	Name  string `json:"name"`
	Total int    `json:"total_covered"`
	Cover bool   `json:"is_covered"`
}

type etlRecord struct {
	Source   etlSource    `json:"source"`
	Coverage etlCoverage  `json:"coverage"`
	Method   *etlMethod   `json:"method,omitempty"`
}

type etlSource struct {
	File     string `json:"file"`
	Language string `json:"language,omitempty"`
}

// WriteActiveDataETL emits one NDJSON record per function plus one
// synthetic "orphan" record per file for lines outside any function
// range, grounded on output.rs's output_activedata_etl.
func WriteActiveDataETL(entries []merge.Entry, w io.Writer) error {
	enc := json.NewEncoder(w)

	for _, entry := range sortedEntries(entries) {
		result := entry.Result
		ranges, orphan := functionRanges(result)
		lines := result.Lines()

		for _, fr := range ranges {
			var allLines, covered, uncovered []int
			for _, l := range lines {
				if l.Line < fr.Function.Start || l.Line >= fr.End {
					continue
				}
				allLines = append(allLines, int(l.Line))
				if l.Count > 0 {
					covered = append(covered, int(l.Line))
				} else {
					uncovered = append(uncovered, int(l.Line))
				}
			}
			rec := etlRecord{
				Source: etlSource{File: entry.RelPath},
				Coverage: etlCoverage{
					Lines:          allLines,
					Covered:        covered,
					UncoveredLines: uncovered,
				},
				Method: &etlMethod{
					Name:  fr.Name,
					Total: len(covered),
					Cover: fr.Function.Executed,
				},
			}
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}

		var allLines, covered, uncovered []int
		for _, l := range lines {
			if !orphan[l.Line] {
				continue
			}
			allLines = append(allLines, int(l.Line))
			if l.Count > 0 {
				covered = append(covered, int(l.Line))
			} else {
				uncovered = append(uncovered, int(l.Line))
			}
		}
		rec := etlRecord{
			Source: etlSource{File: entry.RelPath},
			Coverage: etlCoverage{
				Lines:          allLines,
				Covered:        covered,
				UncoveredLines: uncovered,
			},
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}

	return nil
}
