// Package gcnoreader parses GCC/LLVM GCNO coverage-graph files and GCDA
// counter files and finalizes them into per-source-file line and branch
// coverage, following the same flow-graph cycle accounting as gcov itself.
//
// The binary wire format and the finalization algorithm are grounded on
// mozilla/grcov's src/reader.rs; the cursor-based reading style and error
// wrapping follow the rest of this module's ambient stack.
package gcnoreader

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// GCNO record tags, per spec.md §4.B.
const (
	tagFunction = 0x01000000
	tagBlocks   = 0x01410000
	tagArcs     = 0x01430000
	tagLines    = 0x01450000
	tagCounters = 0x01a10000
	tagSummary  = 0xa1000000
)

var gcnoMagic = [4]byte{'o', 'n', 'c', 'g'}
var gcdaMagic = [4]byte{'a', 'd', 'c', 'g'}

// block is a basic block in a function's control-flow graph.
type block struct {
	no          int
	flags       uint32
	source      []int // indices into fn.edges
	destination []int
	lines       []uint32
	lineMax     uint32
	counter     uint64
}

// edge is a directed arc between two blocks.
type edge struct {
	flags       uint32
	source      int
	destination int
	counter     uint64
	cycles      uint64 // residual counter, consumed during cycle accounting
}

// function is one GCNO/GCDA function record together with its CFG.
type function struct {
	identifier    uint32
	lineChecksum  uint32
	cfgChecksum   uint32
	name          string
	fileName      string
	lineNumber    uint32
	blocks        []block
	edges         []edge
	lines         map[uint32]uint64
	executed      bool
}

// GCNO is the in-memory coverage graph for one translation unit. It is
// single-owner: one worker reads the .gcno stream, folds in zero or more
// .gcda streams, and finalizes it into per-file CovResults.
type GCNO struct {
	version   uint32
	checksum  uint32
	runcounts uint32
	functions []*function
}

// New returns an empty GCNO ready to be populated by Read.
func New() *GCNO {
	return &GCNO{}
}

// Runcounts returns the sum of the run counts carried by the object
// summary records of every .gcda stream folded into this graph so far.
func (g *GCNO) Runcounts() uint32 { return g.runcounts }

type cursor struct {
	r io.Reader
}

func newCursor(r io.Reader) *cursor {
	return &cursor{r: bufio.NewReader(r)}
}

func (c *cursor) u32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (c *cursor) counter() (uint64, error) {
	lo, err := c.u32()
	if err != nil {
		return 0, err
	}
	hi, err := c.u32()
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

func (c *cursor) magic(want [4]byte) error {
	var got [4]byte
	if _, err := io.ReadFull(c.r, got[:]); err != nil {
		return errors.WithStack(err)
	}
	if got != want {
		return errors.Errorf("unexpected file type: %q", got[:])
	}
	return nil
}

// version decodes the four-byte "*ABC" version tag into A + 10*B + 100*C.
func (c *cursor) version() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	if buf[0] != '*' {
		return 0, errors.Errorf("unexpected version magic: %q", buf[:])
	}
	return uint32(buf[1]-'0') + 10*(uint32(buf[2]-'0')+uint32(buf[3]-'0')*10), nil
}

// str reads a length-prefixed, NUL-padded string: a u32 word count
// (skipping zero-length words), then 4*count bytes with trailing NULs
// trimmed.
func (c *cursor) str() (string, int, error) {
	words, err := c.u32()
	if err != nil {
		return "", 0, err
	}
	for words == 0 {
		words, err = c.u32()
		if err != nil {
			return "", 0, err
		}
	}
	n := int(words) * 4
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return "", 0, errors.WithStack(err)
	}
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return string(buf[:end]), int(words), nil
}

// Read parses a .gcno byte stream into the graph.
func (g *GCNO) Read(r io.Reader) error {
	c := newCursor(r)
	if err := c.magic(gcnoMagic); err != nil {
		return errors.Wrap(err, "reading GCNO magic")
	}
	version, err := c.version()
	if err != nil {
		return errors.Wrap(err, "reading GCNO version")
	}
	g.version = version

	checksum, err := c.u32()
	if err != nil {
		return errors.Wrap(err, "reading GCNO checksum")
	}
	g.checksum = checksum

	return g.readFunctions(c)
}

func (g *GCNO) readFunctions(c *cursor) error {
	tag, err := c.u32()
	if err != nil {
		return errors.Wrap(err, "reading function tag")
	}

	for tag == tagFunction {
		if _, err := c.u32(); err != nil { // dummy length word
			return errors.Wrap(err, "reading function header")
		}
		identifier, err := c.u32()
		if err != nil {
			return errors.Wrap(err, "reading function identifier")
		}
		lineChecksum, err := c.u32()
		if err != nil {
			return errors.Wrap(err, "reading function line checksum")
		}

		var cfgChecksum uint32
		if g.version != 402 {
			cfgChecksum, err = c.u32()
			if err != nil {
				return errors.Wrap(err, "reading function cfg checksum")
			}
			if cfgChecksum != g.checksum {
				name, _, _ := c.str()
				return errors.Errorf("file checksums do not match: %d != %d (in %s)", g.checksum, cfgChecksum, name)
			}
		}

		name, _, err := c.str()
		if err != nil {
			return errors.Wrap(err, "reading function name")
		}
		fileName, _, err := c.str()
		if err != nil {
			return errors.Wrap(err, "reading function file name")
		}
		lineNumber, err := c.u32()
		if err != nil {
			return errors.Wrap(err, "reading function line number")
		}

		blockTag, err := c.u32()
		if err != nil {
			return errors.Wrap(err, "reading block tag")
		}
		if blockTag != tagBlocks {
			return errors.Errorf("invalid function tag: %#x (in %s)", blockTag, name)
		}

		count, err := c.u32()
		if err != nil {
			return errors.Wrap(err, "reading block count")
		}
		blocks := make([]block, count)
		for i := range blocks {
			flags, err := c.u32()
			if err != nil {
				return errors.Wrap(err, "reading block flags")
			}
			blocks[i] = block{no: i, flags: flags}
		}

		fn := &function{
			identifier:   identifier,
			lineChecksum: lineChecksum,
			cfgChecksum:  cfgChecksum,
			name:         name,
			fileName:     fileName,
			lineNumber:   lineNumber,
			blocks:       blocks,
			lines:        make(map[uint32]uint64),
		}

		tag, err = readEdges(fn, c)
		if err != nil {
			return errors.Wrapf(err, "reading edges for function %s", name)
		}
		tag, err = readLines(fn, c, tag)
		if err != nil {
			return errors.Wrapf(err, "reading lines for function %s", name)
		}

		g.functions = append(g.functions, fn)
	}

	return nil
}

func readEdges(fn *function, c *cursor) (uint32, error) {
	tag, err := c.u32()
	if err != nil {
		return 0, err
	}

	for tag == tagArcs {
		count, err := c.u32()
		if err != nil {
			return 0, err
		}
		n := int((count - 1) / 2)
		blockNo, err := c.u32()
		if err != nil {
			return 0, err
		}
		if int(blockNo) > len(fn.blocks) {
			return 0, errors.Errorf("unexpected block number: %d (in %s)", blockNo, fn.name)
		}
		for i := 0; i < n; i++ {
			dst, err := c.u32()
			if err != nil {
				return 0, err
			}
			flags, err := c.u32()
			if err != nil {
				return 0, err
			}
			idx := len(fn.edges)
			fn.edges = append(fn.edges, edge{
				flags:       flags,
				source:      int(blockNo),
				destination: int(dst),
			})
			fn.blocks[blockNo].destination = append(fn.blocks[blockNo].destination, idx)
			fn.blocks[dst].source = append(fn.blocks[dst].source, idx)
		}
		tag, err = c.u32()
		if err != nil {
			return 0, err
		}
	}
	return tag, nil
}

func readLines(fn *function, c *cursor, tag uint32) (uint32, error) {
	for tag == tagLines {
		length, err := c.u32()
		if err != nil {
			return 0, err
		}
		length -= 3
		blockNo, err := c.u32()
		if err != nil {
			return 0, err
		}
		if int(blockNo) > len(fn.blocks) {
			return 0, errors.Errorf("unexpected block number: %d (in %s)", blockNo, fn.name)
		}
		if length > 0 {
			if _, err := c.u32(); err != nil { // padding word
				return 0, err
			}
			fileName, words, err := c.str()
			if err != nil {
				return 0, err
			}
			if fileName != fn.fileName {
				return 0, errors.Errorf("multiple sources for a single basic block: %s != %s (in %s)", fn.fileName, fileName, fn.name)
			}
			remaining := int(length) - 2 - words
			b := &fn.blocks[blockNo]
			for i := 0; i < remaining; i++ {
				line, err := c.u32()
				if err != nil {
					return 0, err
				}
				if line != 0 {
					b.lines = append(b.lines, line)
					if line > b.lineMax {
						b.lineMax = line
					}
				}
			}
		}
		// two trailing zero words terminate the line-number list
		if _, err := c.u32(); err != nil {
			return 0, err
		}
		if _, err := c.u32(); err != nil {
			return 0, err
		}
		tag, err = c.u32()
		if err != nil {
			return 0, err
		}
	}
	return tag, nil
}

// ReadGCDA folds a .gcda counters stream into the graph. Counters add, so
// ingesting the same stream twice doubles every edge counter, matching
// spec.md §8 invariant 4.
func (g *GCNO) ReadGCDA(r io.Reader) error {
	c := newCursor(r)
	if err := c.magic(gcdaMagic); err != nil {
		return errors.Wrap(err, "reading GCDA magic")
	}
	version, err := c.version()
	if err != nil {
		return errors.Wrap(err, "reading GCDA version")
	}
	if version != g.version {
		return errors.New("GCOV versions do not match")
	}
	checksum, err := c.u32()
	if err != nil {
		return errors.Wrap(err, "reading GCDA checksum")
	}
	if checksum != g.checksum {
		return errors.Errorf("file checksums do not match: %d != %d", g.checksum, checksum)
	}

	for _, fn := range g.functions {
		if err := readGCDAFunction(g.version, g.checksum, fn, c); err != nil {
			return errors.Wrapf(err, "reading gcda counters for function %s", fn.name)
		}
	}

	tag, err := c.u32()
	if err != nil {
		if errors.Is(errors.Cause(err), io.EOF) || errors.Is(errors.Cause(err), io.ErrUnexpectedEOF) {
			return nil
		}
		return errors.Wrap(err, "reading object summary tag")
	}
	if tag == tagSummary {
		if _, err := c.u32(); err != nil {
			return err
		}
		if _, err := c.counter(); err != nil {
			return err
		}
		runs, err := c.u32()
		if err != nil {
			return err
		}
		g.runcounts += runs
	}
	return nil
}

func readGCDAFunction(version, checksum uint32, fn *function, c *cursor) error {
	tag, err := c.u32()
	if err != nil {
		return err
	}
	if tag != tagFunction {
		return errors.New("unexpected number of functions")
	}
	if _, err := c.u32(); err != nil { // header length
		return err
	}
	id, err := c.u32()
	if err != nil {
		return err
	}
	if id != fn.identifier {
		return errors.Errorf("function identifiers do not match: %d != %d (in %s)", fn.identifier, id, fn.name)
	}
	if _, err := c.u32(); err != nil { // line checksum, not re-validated
		return err
	}
	if version != 402 {
		cfgSum, err := c.u32()
		if err != nil {
			return err
		}
		if cfgSum != checksum {
			return errors.Errorf("file checksums do not match: %d != %d (in %s)", checksum, cfgSum, fn.name)
		}
	}
	name, _, err := c.str()
	if err != nil {
		return err
	}
	if name != fn.name {
		return errors.Errorf("function names do not match: %s != %s", fn.name, name)
	}

	arcTag, err := c.u32()
	if err != nil {
		return err
	}
	if arcTag != tagCounters {
		return errors.Errorf("arc tag not found (in %s)", name)
	}
	count, err := c.u32()
	if err != nil {
		return err
	}
	if uint32(len(fn.edges)) != count/2 {
		return errors.Errorf("unexpected number of edges (in %s)", name)
	}

	for i := range fn.edges {
		cnt, err := c.counter()
		if err != nil {
			return err
		}
		e := &fn.edges[i]
		e.counter += cnt
		fn.blocks[e.destination].counter += cnt
		if i == 0 {
			fn.blocks[e.source].counter += cnt
		}
		if !fn.executed && cnt != 0 {
			fn.executed = true
		}
	}
	return nil
}
