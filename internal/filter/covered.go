package filter

import "github.com/ci-tools/grcovgo/internal/covmodel"

// IsCovered reports whether a file should count as covered at all, per
// original_source/src/filter.rs's is_covered. C/C++ files are uncovered
// when every recorded line has a zero count. JavaScript-style files
// always execute their top level, so for files with more than one
// function we additionally require some non-top-level function to have
// executed.
func IsCovered(result *covmodel.CovResult) bool {
	anyLineCovered := false
	for _, e := range result.Lines() {
		if e.Count != 0 {
			anyLineCovered = true
			break
		}
	}
	if !anyLineCovered {
		return false
	}

	if len(result.Functions) <= 1 {
		return true
	}

	for name, fn := range result.Functions {
		if fn.Executed && name != "top-level" {
			return true
		}
	}
	return false
}

// Apply removes the line and branch entries covered by an exclusion,
// returning a new CovResult so the original parsed data is left intact.
func Apply(result *covmodel.CovResult, exclusions []Exclusion) *covmodel.CovResult {
	if len(exclusions) == 0 {
		return result
	}

	excludedLines := make(map[uint32]bool)
	excludedBranches := make(map[uint32]bool)
	for _, e := range exclusions {
		switch e.Kind {
		case Line:
			excludedLines[e.LineNumber] = true
		case Branch:
			excludedBranches[e.LineNumber] = true
		case Both:
			excludedLines[e.LineNumber] = true
			excludedBranches[e.LineNumber] = true
		}
	}

	out := covmodel.NewCovResult()
	for _, e := range result.Lines() {
		if excludedLines[e.Line] {
			continue
		}
		out.SetLine(e.Line, e.Count)
	}
	for _, e := range result.Branches() {
		if excludedBranches[e.Key.Line] {
			continue
		}
		out.SetBranch(e.Key, e.Taken)
	}
	for name, fn := range result.Functions {
		cp := *fn
		out.Functions[name] = &cp
	}
	out.Densify()
	return out
}

// Overview is the aggregate coverage statistics for one file or an
// entire report.
type Overview struct {
	LinesFound     int
	LinesHit       int
	BranchesFound  int
	BranchesHit    int
	FunctionsFound int
	FunctionsHit   int
}

// Summarize computes the overview statistics for a single CovResult.
func Summarize(result *covmodel.CovResult) Overview {
	var o Overview
	for _, e := range result.Lines() {
		o.LinesFound++
		if e.Count > 0 {
			o.LinesHit++
		}
	}
	for _, e := range result.Branches() {
		o.BranchesFound++
		if e.Taken {
			o.BranchesHit++
		}
	}
	for _, fn := range result.Functions {
		o.FunctionsFound++
		if fn.Executed {
			o.FunctionsHit++
		}
	}
	return o
}

// FileCoverage pairs a report-relative path with its overview.
type FileCoverage struct {
	Filename string
	Coverage Overview
}

// Summary is the whole-report aggregate: per-file overviews plus a
// running total.
type Summary struct {
	Total Overview
	Files []FileCoverage
}

// Add folds a file's overview into the summary.
func (s *Summary) Add(filename string, o Overview) {
	s.Files = append(s.Files, FileCoverage{Filename: filename, Coverage: o})
	s.Total.LinesFound += o.LinesFound
	s.Total.LinesHit += o.LinesHit
	s.Total.BranchesFound += o.BranchesFound
	s.Total.BranchesHit += o.BranchesHit
	s.Total.FunctionsFound += o.FunctionsFound
	s.Total.FunctionsHit += o.FunctionsHit
}
