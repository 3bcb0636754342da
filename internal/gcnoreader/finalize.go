package gcnoreader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ci-tools/grcovgo/internal/covmodel"
)

// Finalize computes per-source-file line counts, branch coverage, and
// function presence for every function folded into the graph so far,
// grouped by the function's recorded file name. branchEnabled mirrors
// gcov's -b flag: branch entries are only populated when requested.
func (g *GCNO) Finalize(branchEnabled bool) (covmodel.CovResultMap, error) {
	out := make(covmodel.CovResultMap)
	var order []string

	for _, fn := range g.functions {
		addLineCount(fn)

		res, ok := out[fn.fileName]
		if !ok {
			res = covmodel.NewCovResult()
			out[fn.fileName] = res
			order = append(order, fn.fileName)
		}

		existing, ok := res.Functions[fn.name]
		if !ok {
			res.Functions[fn.name] = &covmodel.Function{Start: fn.lineNumber, Executed: fn.executed}
		} else {
			existing.Executed = existing.Executed || fn.executed
		}

		if fn.executed {
			for line, count := range fn.lines {
				res.AddLine(line, count)
			}
		} else {
			for line := range fn.lines {
				if !res.HasLine(line) {
					res.SetLine(line, 0)
				}
			}
		}

		if branchEnabled {
			finalizeBranches(fn, res)
		}
		res.Densify()
	}

	return out, nil
}

// addLineCount populates fn.lines with the per-line execution count,
// grounded on reader.rs's add_line_count / get_line_count.
func addLineCount(fn *function) {
	linesToBlocks := make(map[uint32][]int)
	var lineOrder []uint32
	for i := range fn.blocks {
		for _, line := range fn.blocks[i].lines {
			if _, ok := linesToBlocks[line]; !ok {
				lineOrder = append(lineOrder, line)
			}
			linesToBlocks[line] = append(linesToBlocks[line], i)
		}
	}

	if !fn.executed {
		for _, line := range lineOrder {
			fn.lines[line] = 0
		}
		return
	}

	for _, line := range lineOrder {
		fn.lines[line] = getLineCount(fn, linesToBlocks[line])
	}
}

// getLineCount sums the counters entering a group of blocks that share a
// line from outside the group, then adds the contribution of any cycles
// wholly contained within the group. Grounded on reader.rs's
// get_line_count / get_cycles_count / look_for_circuit / unblock /
// get_cycle_count chain (Johnson's elementary-circuit enumeration).
func getLineCount(fn *function, group []int) uint64 {
	inGroup := make(map[int]bool, len(group))
	for _, b := range group {
		inGroup[b] = true
	}

	var count uint64
	for _, b := range group {
		blk := &fn.blocks[b]
		if len(blk.source) == 0 {
			count += blk.counter
		} else {
			for _, ei := range blk.source {
				e := &fn.edges[ei]
				if !inGroup[e.source] {
					count += e.counter
				}
			}
		}
		for _, ei := range blk.destination {
			fn.edges[ei].cycles = fn.edges[ei].counter
		}
	}

	count += getCyclesCount(fn, group, inGroup)
	return count
}

func getCyclesCount(fn *function, group []int, inGroup map[int]bool) uint64 {
	var total uint64
	for _, start := range group {
		path := []int{}
		blocked := make(map[int]bool)
		blockLists := make(map[int][]int)
		var found bool
		total += lookForCircuit(fn, start, start, &path, blocked, blockLists, inGroup, &found)
	}
	return total
}

// lookForCircuit is Johnson's elementary-circuit DFS restricted to nodes
// in the group with index >= start.
func lookForCircuit(fn *function, v, start int, path *[]int, blocked map[int]bool, blockLists map[int][]int, inGroup map[int]bool, foundOuter *bool) uint64 {
	var count uint64
	var found bool

	blocked[v] = true
	if _, ok := blockLists[v]; !ok {
		blockLists[v] = nil
	}

	for _, ei := range fn.blocks[v].destination {
		e := &fn.edges[ei]
		w := e.destination
		if w < start || !inGroup[w] {
			continue
		}
		*path = append(*path, ei)
		if w == start {
			count += getCycleCount(fn, *path)
			found = true
		} else if !blocked[w] {
			var sub bool
			count += lookForCircuit(fn, w, start, path, blocked, blockLists, inGroup, &sub)
			if sub {
				found = true
			}
		}
		*path = (*path)[:len(*path)-1]
	}

	if found {
		unblock(v, blocked, blockLists)
	} else {
		for _, ei := range fn.blocks[v].destination {
			w := fn.edges[ei].destination
			if w < start || !inGroup[w] {
				continue
			}
			already := false
			for _, x := range blockLists[w] {
				if x == v {
					already = true
					break
				}
			}
			if !already {
				blockLists[w] = append(blockLists[w], v)
			}
		}
	}

	*foundOuter = found
	return count
}

func unblock(b int, blocked map[int]bool, blockLists map[int][]int) {
	delete(blocked, b)
	list := blockLists[b]
	blockLists[b] = nil
	for _, w := range list {
		if blocked[w] {
			unblock(w, blocked, blockLists)
		}
	}
}

// getCycleCount takes the minimum residual "cycles" value along path and
// subtracts it from every edge on the path.
func getCycleCount(fn *function, path []int) uint64 {
	if len(path) == 0 {
		return 0
	}
	min := fn.edges[path[0]].cycles
	for _, ei := range path[1:] {
		if fn.edges[ei].cycles < min {
			min = fn.edges[ei].cycles
		}
	}
	for _, ei := range path {
		fn.edges[ei].cycles -= min
	}
	return min
}

// finalizeBranches derives branch-taken entries for every block that has
// more than one destination on its max line, per reader.rs's finalize.
func finalizeBranches(fn *function, res *covmodel.CovResult) {
	byLine := make(map[uint32][]int)
	var lineOrder []uint32
	for i := range fn.blocks {
		blk := &fn.blocks[i]
		if len(blk.destination) <= 1 || blk.lineMax == 0 {
			continue
		}
		if _, ok := byLine[blk.lineMax]; !ok {
			lineOrder = append(lineOrder, blk.lineMax)
		}
		byLine[blk.lineMax] = append(byLine[blk.lineMax], i)
	}

	for _, line := range lineOrder {
		n := 0
		for _, bi := range byLine[line] {
			for _, ei := range fn.blocks[bi].destination {
				taken := fn.executed && fn.edges[ei].counter > 0
				res.SetBranch(covmodel.BranchKey{Line: line, Branch: n}, taken)
				n++
			}
		}
	}
}

// Dump writes the gcov-style textual representation of one source file's
// coverage, reading the source text from sourcePath, per spec.md §4.B.
func (g *GCNO) Dump(sourcePath, fileName string, w io.Writer) error {
	results, err := g.Finalize(false)
	if err != nil {
		return err
	}
	res, ok := results[fileName]
	if !ok {
		res = covmodel.NewCovResult()
	}

	counts := make(map[uint32]uint64, len(res.Lines()))
	for _, e := range res.Lines() {
		counts[e.Line] = e.Count
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return errors.Wrap(err, "opening source file for dump")
	}
	defer f.Close()

	stem := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	hasRuns := g.runcounts > 0

	fmt.Fprintf(w, "%9s:%5d:Source:%s\n", "-", 0, fileName)
	fmt.Fprintf(w, "%9s:%5d:Graph:%s.gcno\n", "-", 0, stem)
	if hasRuns {
		fmt.Fprintf(w, "%9s:%5d:Data:%s.gcda\n", "-", 0, stem)
	} else {
		fmt.Fprintf(w, "%9s:%5d:Data:-\n", "-", 0)
	}
	fmt.Fprintf(w, "%9s:%5d:Runs:%d\n", "-", 0, g.runcounts)
	programs := 0
	if hasRuns {
		programs = 1
	}
	fmt.Fprintf(w, "%9s:%5d:Programs:%d\n", "-", 0, programs)

	scanner := bufio.NewScanner(f)
	lineNo := uint32(0)
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if count, ok := counts[lineNo]; ok {
			field := fmt.Sprintf("%d", count)
			if count == 0 {
				field = "#####"
			}
			fmt.Fprintf(w, "%9s:%5d:%s\n", field, lineNo, text)
		} else {
			fmt.Fprintf(w, "%9s:%5d:%s\n", "-", lineNo, text)
		}
	}
	return errors.Wrap(scanner.Err(), "scanning source file for dump")
}
