package report

import (
	"encoding/json"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ci-tools/grcovgo/internal/filter"
	"github.com/ci-tools/grcovgo/internal/merge"
)

// cdStats accumulates lines-found/lines-hit counts and derives a rounded
// percentage, grounded on original_source/src/covdir.rs's CDStats.
type cdStats struct {
	Total     int     `json:"linesTotal"`
	Covered   int     `json:"linesCovered"`
	Missed    int     `json:"linesMissed"`
	Coverage  float64 `json:"coveragePercent"`
}

func (s *cdStats) add(other cdStats) {
	s.Total += other.Total
	s.Covered += other.Covered
	s.Missed += other.Missed
	s.setPercent()
}

func (s *cdStats) setPercent() {
	if s.Total == 0 {
		s.Coverage = 0
		return
	}
	pct := float64(s.Covered) / float64(s.Total) * 100
	// round to 2 decimal places, matching covdir.rs's get_percent.
	s.Coverage = float64(int(pct*100+0.5)) / 100
}

// covDirNode is either a file leaf or a directory with children, encoded
// as a flat object like covdir.rs's CDFileStats/CDDirStats JSON shape.
type covDirNode struct {
	cdStats
	Name     string                 `json:"name"`
	Children map[string]*covDirNode `json:"children,omitempty"`
}

func newDirNode(name string) *covDirNode {
	return &covDirNode{Name: name, Children: make(map[string]*covDirNode)}
}

// WriteCovDir emits a recursive directory-tree JSON coverage summary.
// The Rust original's tree-walking driver lives outside the retrieved
// covdir.rs building blocks (in its CLI binary), so the walk itself is
// authored here directly against the CDStats/CDFileStats/CDDirStats
// aggregation contract.
func WriteCovDir(entries []merge.Entry, w io.Writer) error {
	root := newDirNode("")

	for _, entry := range sortedEntries(entries) {
		overview := filter.Summarize(entry.Result)
		leaf := cdStats{
			Total:   overview.LinesFound,
			Covered: overview.LinesHit,
			Missed:  overview.LinesFound - overview.LinesHit,
		}
		leaf.setPercent()

		segments := strings.Split(filepath.ToSlash(entry.RelPath), "/")
		insertLeaf(root, segments, leaf)
	}

	rollup(root)

	if err := json.NewEncoder(w).Encode(root); err != nil {
		return err
	}
	return nil
}

func insertLeaf(node *covDirNode, segments []string, leaf cdStats) {
	if len(segments) == 1 {
		child := newDirNode(segments[0])
		child.cdStats = leaf
		child.Children = nil
		node.Children[segments[0]] = child
		return
	}
	name := segments[0]
	child, ok := node.Children[name]
	if !ok {
		child = newDirNode(name)
		node.Children[name] = child
	}
	insertLeaf(child, segments[1:], leaf)
}

// rollup recursively sums directory children's stats bottom-up,
// mirroring CDDirStats::set_stats.
func rollup(node *covDirNode) cdStats {
	if node.Children == nil {
		return node.cdStats
	}

	var names []string
	for name := range node.Children {
		names = append(names, name)
	}
	sort.Strings(names)

	var agg cdStats
	for _, name := range names {
		child := node.Children[name]
		agg.add(rollup(child))
	}
	node.cdStats = agg
	return agg
}
