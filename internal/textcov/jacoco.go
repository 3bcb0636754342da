package textcov

import (
	"encoding/xml"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ci-tools/grcovgo/internal/covmodel"
)

// jacocoXMLReport mirrors the subset of Jacoco's report schema this
// package cares about, adapted from the teacher's
// pkg/parser/coverage/jacoco.go.
type jacocoXMLReport struct {
	Packages []struct {
		Name  string `xml:"name,attr"`
		Class []struct {
			Name   string `xml:"name,attr"`
			Method []struct {
				Name    string          `xml:"name,attr"`
				Line    uint32          `xml:"line,attr"`
				Counter []jacocoCounter `xml:"counter"`
			} `xml:"method"`
		} `xml:"class"`
		SourceFiles []struct {
			Name string `xml:"name,attr"`
			Line []struct {
				Nr                  uint32 `xml:"nr,attr"`
				CoveredInstructions int    `xml:"ci,attr"`
				MissedBranches      int    `xml:"mb,attr"`
				CoveredBranches     int    `xml:"cb,attr"`
			} `xml:"line"`
		} `xml:"sourcefile"`
	} `xml:"package"`
}

type jacocoCounter struct {
	Type    string `xml:"type,attr"`
	Covered int    `xml:"covered,attr"`
}

// ParseJacocoXML parses a Jacoco XML report into a CovResultMap. A line
// is considered covered if any instruction on it was covered, matching
// the teacher's binary covered/uncovered collapse of Jacoco's
// instruction-level counters.
func ParseJacocoXML(r io.Reader) (covmodel.CovResultMap, error) {
	out := make(covmodel.CovResultMap)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading jacoco xml report")
	}
	if len(data) == 0 {
		return out, nil
	}

	var report jacocoXMLReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrap(err, "parsing jacoco xml report")
	}

	for _, pkg := range report.Packages {
		for _, sourceFile := range pkg.SourceFiles {
			packagePath := filepath.Join(pkg.Name, sourceFile.Name)
			name := filepath.Join("src", "main", "java", packagePath)

			res := covmodel.NewCovResult()

			for _, line := range sourceFile.Line {
				count := uint64(0)
				if line.CoveredInstructions > 0 {
					count = 1
				}
				res.SetLine(line.Nr, count)

				n := 0
				for i := 0; i < line.CoveredBranches; i++ {
					res.SetBranch(covmodel.BranchKey{Line: line.Nr, Branch: n}, true)
					n++
				}
				for i := 0; i < line.MissedBranches; i++ {
					res.SetBranch(covmodel.BranchKey{Line: line.Nr, Branch: n}, false)
					n++
				}
			}

			className := filepath.ToSlash(strings.TrimSuffix(packagePath, filepath.Ext(packagePath)))
			for _, class := range pkg.Class {
				if class.Name != className {
					continue
				}
				for _, method := range class.Method {
					executed := false
					for _, counter := range method.Counter {
						if counter.Type == "METHOD" && counter.Covered > 0 {
							executed = true
							break
						}
					}
					res.Functions[method.Name] = &covmodel.Function{Start: method.Line, Executed: executed}
				}
			}

			res.Densify()
			if existing, ok := out[name]; ok {
				existing.Merge(res)
			} else {
				out[name] = res
			}
		}
	}

	return out, nil
}
