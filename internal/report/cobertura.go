package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/ci-tools/grcovgo/internal/covmodel"
	"github.com/ci-tools/grcovgo/internal/merge"
)

// Cobertura XML structures, grounded on original_source/src/cobertura.rs's
// Coverage/Package/Class/Method/Line/Condition types.

type coberturaCoverage struct {
	XMLName        xml.Name            `xml:"coverage"`
	LineRate       string              `xml:"line-rate,attr"`
	BranchRate     string              `xml:"branch-rate,attr"`
	LinesCovered   int                 `xml:"lines-covered,attr"`
	LinesValid     int                 `xml:"lines-valid,attr"`
	BranchesCovered int                `xml:"branches-covered,attr"`
	BranchesValid  int                 `xml:"branches-valid,attr"`
	Version        string              `xml:"version,attr"`
	Packages       coberturaPackageSet `xml:"packages"`
}

type coberturaPackageSet struct {
	Packages []coberturaPackage `xml:"package"`
}

type coberturaPackage struct {
	Name       string             `xml:"name,attr"`
	LineRate   string             `xml:"line-rate,attr"`
	BranchRate string             `xml:"branch-rate,attr"`
	Classes    coberturaClassSet  `xml:"classes"`
}

type coberturaClassSet struct {
	Classes []coberturaClass `xml:"class"`
}

type coberturaClass struct {
	Name       string             `xml:"name,attr"`
	Filename   string             `xml:"filename,attr"`
	LineRate   string             `xml:"line-rate,attr"`
	BranchRate string             `xml:"branch-rate,attr"`
	Methods    coberturaMethodSet `xml:"methods"`
	Lines      coberturaLineSet   `xml:"lines"`
}

type coberturaMethodSet struct {
	Methods []coberturaMethod `xml:"method"`
}

type coberturaMethod struct {
	Name       string           `xml:"name,attr"`
	Signature  string           `xml:"signature,attr"`
	LineRate   string           `xml:"line-rate,attr"`
	BranchRate string           `xml:"branch-rate,attr"`
	Lines      coberturaLineSet `xml:"lines"`
}

type coberturaLineSet struct {
	Lines []coberturaLine `xml:"line"`
}

type coberturaLine struct {
	Number     uint32                `xml:"number,attr"`
	Hits       uint64                `xml:"hits,attr"`
	Branch     bool                  `xml:"branch,attr,omitempty"`
	Conditions *coberturaConditionSet `xml:"conditions,omitempty"`
}

type coberturaConditionSet struct {
	Conditions []coberturaCondition `xml:"condition"`
}

type coberturaCondition struct {
	Number     int    `xml:"number,attr"`
	Type       string `xml:"type,attr"`
	Coverage   string `xml:"coverage,attr"`
}

// lineRate computes hit/total formatted to 4 decimal places, matching
// cobertura.rs's LineRate trait, with an all-empty file reporting 0.0.
func lineRate(hit, total int) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.4f", float64(hit)/float64(total))
}

func coberturaLinesFor(result *covmodel.CovResult, start, end uint32) []coberturaLine {
	var out []coberturaLine
	for _, l := range result.Lines() {
		if l.Line < start || l.Line >= end {
			continue
		}
		line := coberturaLine{Number: l.Line, Hits: l.Count}
		branches := result.BranchesForLine(l.Line)
		if len(branches) > 0 {
			line.Branch = true
			cs := &coberturaConditionSet{}
			for i, b := range branches {
				cov := "0%"
				if b.Taken {
					cov = "100%"
				}
				cs.Conditions = append(cs.Conditions, coberturaCondition{
					Number:   i,
					Type:     "jump",
					Coverage: cov,
				})
			}
			line.Conditions = cs
		}
		out = append(out, line)
	}
	return out
}

func lineSetRates(lines []coberturaLine) (hit, total int) {
	for _, l := range lines {
		total++
		if l.Hits > 0 {
			hit++
		}
	}
	return
}

func branchSetRates(lines []coberturaLine) (hit, total int) {
	for _, l := range lines {
		if l.Conditions == nil {
			continue
		}
		for _, c := range l.Conditions.Conditions {
			total++
			if c.Coverage == "100%" {
				hit++
			}
		}
	}
	return
}

// classNameForPath derives a Java-style package/class name from a
// relative source path, matching cobertura.rs's use of the path as both
// package and class identity when no language-specific demangling
// applies.
func classNameForPath(relPath string) (pkg, class string) {
	dir := filepath.ToSlash(filepath.Dir(relPath))
	base := filepath.Base(relPath)
	if dir == "." {
		return "", base
	}
	return dir, base
}

// WriteCobertura emits a Cobertura XML report, grounded on
// original_source/src/cobertura.rs's output_cobertura. Function lines are
// grouped into <method> elements via functionRanges; lines outside any
// function range are emitted directly on the <class>.
func WriteCobertura(entries []merge.Entry, w io.Writer) error {
	cov := coberturaCoverage{Version: "1.9"}

	byPackage := make(map[string][]coberturaClass)
	var pkgOrder []string

	totalLinesHit, totalLinesValid := 0, 0
	totalBranchesHit, totalBranchesValid := 0, 0

	for _, entry := range sortedEntries(entries) {
		result := entry.Result
		ranges, orphan := functionRanges(result)

		var methods []coberturaMethod
		for _, fr := range ranges {
			lines := coberturaLinesFor(result, fr.Function.Start, fr.End)
			hit, total := lineSetRates(lines)
			bhit, btotal := branchSetRates(lines)
			methods = append(methods, coberturaMethod{
				Name:       fr.Name,
				Signature:  "()V",
				LineRate:   lineRate(hit, total),
				BranchRate: lineRate(bhit, btotal),
				Lines:      coberturaLineSet{Lines: lines},
			})
		}

		var classLines []coberturaLine
		for _, l := range result.Lines() {
			if orphan[l.Line] {
				classLines = append(classLines, coberturaLinesFor(result, l.Line, l.Line+1)...)
			}
		}

		allLines := append(append([]coberturaLine{}, classLines...), flattenMethodLines(methods)...)
		hit, total := lineSetRates(allLines)
		bhit, btotal := branchSetRates(allLines)
		totalLinesHit += hit
		totalLinesValid += total
		totalBranchesHit += bhit
		totalBranchesValid += btotal

		pkg, class := classNameForPath(entry.RelPath)
		cls := coberturaClass{
			Name:       class,
			Filename:   entry.RelPath,
			LineRate:   lineRate(hit, total),
			BranchRate: lineRate(bhit, btotal),
			Methods:    coberturaMethodSet{Methods: methods},
			Lines:      coberturaLineSet{Lines: classLines},
		}

		if _, ok := byPackage[pkg]; !ok {
			pkgOrder = append(pkgOrder, pkg)
		}
		byPackage[pkg] = append(byPackage[pkg], cls)
	}

	sort.Strings(pkgOrder)
	for _, pkg := range pkgOrder {
		classes := byPackage[pkg]
		hit, total, bhit, btotal := 0, 0, 0, 0
		for _, c := range classes {
			h, t := lineSetRates(c.Lines)
			hit += h
			total += t
			for _, m := range c.Methods.Methods {
				h, t := lineSetRates(m.Lines.Lines)
				hit += h
				total += t
				bh, bt := branchSetRates(m.Lines.Lines)
				bhit += bh
				btotal += bt
			}
			bh, bt := branchSetRates(c.Lines)
			bhit += bh
			btotal += bt
		}
		cov.Packages.Packages = append(cov.Packages.Packages, coberturaPackage{
			Name:       pkg,
			LineRate:   lineRate(hit, total),
			BranchRate: lineRate(bhit, btotal),
			Classes:    coberturaClassSet{Classes: classes},
		})
	}

	cov.LinesCovered = totalLinesHit
	cov.LinesValid = totalLinesValid
	cov.BranchesCovered = totalBranchesHit
	cov.BranchesValid = totalBranchesValid
	cov.LineRate = lineRate(totalLinesHit, totalLinesValid)
	cov.BranchRate = lineRate(totalBranchesHit, totalBranchesValid)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "<!DOCTYPE coverage SYSTEM \"http://cobertura.sourceforge.net/xml/coverage-04.dtd\">\n"); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(cov)
}

func flattenMethodLines(methods []coberturaMethod) []coberturaLine {
	var out []coberturaLine
	for _, m := range methods {
		out = append(out, m.Lines.Lines...)
	}
	return out
}
