package gcnoreader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The fixtures below hand-encode a .gcno/.gcda byte stream exercising
// Read/ReadGCDA directly, rather than building *function/*block values in
// memory the way finalize_test.go does. mozilla/grcov's own reader.gcno /
// reader.gcda (referenced by spec.md §8's concrete scenarios) are binary
// files compiled from a real C program and were not present in the
// retrieved reference pack, so this is a self-authored two-function graph
// built to the same shape: a straight-line function whose lines propagate
// block counters, and a branching function whose decision block sits on
// its own line, reproducing spec.md §8 scenarios 1-3 (GCNO-only read,
// GCNO+one GCDA, GCNO+two identical GCDAs).

const (
	fixtureVersion  = 904 // any value != 402 so the cfg-checksum path is exercised
	fixtureChecksum = 12345
	fixtureFile     = "fixture.c"
)

type byteBuilder struct {
	buf bytes.Buffer
}

func (b *byteBuilder) u32(v uint32) {
	b.buf.WriteByte(byte(v))
	b.buf.WriteByte(byte(v >> 8))
	b.buf.WriteByte(byte(v >> 16))
	b.buf.WriteByte(byte(v >> 24))
}

func (b *byteBuilder) counter(v uint64) {
	b.u32(uint32(v))
	b.u32(uint32(v >> 32))
}

func (b *byteBuilder) magic(m [4]byte) {
	b.buf.Write(m[:])
}

// version encodes v into the reader's "*ABC" -> A + 10*B + 100*C format.
func (b *byteBuilder) version(v uint32) {
	d1 := v % 10
	r := v / 10
	d2 := r % 10
	d3 := r / 10
	b.buf.WriteByte('*')
	b.buf.WriteByte(byte('0' + d1))
	b.buf.WriteByte(byte('0' + d2))
	b.buf.WriteByte(byte('0' + d3))
}

// str writes a length-prefixed, NUL-padded string matching cursor.str:
// one u32 word count, then that many 4-byte words, NUL-padded past the
// string's own bytes so the reader's trailing-NUL trim recovers it exactly.
func (b *byteBuilder) str(s string) {
	words := (len(s) + 1 + 3) / 4
	if words == 0 {
		words = 1
	}
	b.u32(uint32(words))
	padded := make([]byte, words*4)
	copy(padded, s)
	b.buf.Write(padded)
}

// linesRecord writes one tagLines record for blockNo carrying lineNumbers
// (possibly empty, in which case no filename/line payload is written).
func (b *byteBuilder) linesRecord(blockNo uint32, lineNumbers ...uint32) {
	b.u32(tagLines)
	if len(lineNumbers) == 0 {
		b.u32(3) // length-3 == 0: no filename/line payload follows
		b.u32(blockNo)
		b.u32(0) // trailing zero pair
		b.u32(0)
		return
	}

	words := (len(fixtureFile) + 1 + 3) / 4
	length := 5 + words + len(lineNumbers)
	b.u32(uint32(length))
	b.u32(blockNo)
	b.u32(0) // padding word
	b.str(fixtureFile)
	for _, ln := range lineNumbers {
		b.u32(ln)
	}
	b.u32(0) // trailing zero pair
	b.u32(0)
}

// arcsRecord writes one tagArcs record: blockNo's outgoing edges to dsts.
func (b *byteBuilder) arcsRecord(blockNo uint32, dsts ...uint32) {
	b.u32(tagArcs)
	b.u32(1 + 2*uint32(len(dsts)))
	b.u32(blockNo)
	for _, dst := range dsts {
		b.u32(dst) // destination
		b.u32(0)   // flags
	}
}

// buildFixtureGCNO encodes the two-function graph described in the
// package doc comment above: "foo" (2 blocks, no branches, lines 2 and 3)
// and "bar" (a decision block at line 13 with two destinations, matching
// spec.md §8 scenario 2's branch assertion).
func buildFixtureGCNO() []byte {
	var b byteBuilder
	b.magic(gcnoMagic)
	b.version(fixtureVersion)
	b.u32(fixtureChecksum)

	// function "foo": id=1, blocks 0(entry)->1(line2)->2(line3)
	b.u32(tagFunction)
	b.u32(0) // dummy header length
	b.u32(1) // identifier
	b.u32(111)
	b.u32(fixtureChecksum)
	b.str("foo")
	b.str(fixtureFile)
	b.u32(2) // lineNumber
	b.u32(tagBlocks)
	b.u32(3) // block count
	b.u32(0)
	b.u32(0)
	b.u32(0)
	b.arcsRecord(0, 1)
	b.arcsRecord(1, 2)
	b.linesRecord(1, 2)
	b.linesRecord(2, 3)

	// function "bar": id=2, blocks 0(entry,line10)->1(decision,line13)->{2,3}->4(exit)
	b.u32(tagFunction)
	b.u32(0)
	b.u32(2) // identifier
	b.u32(222)
	b.u32(fixtureChecksum)
	b.str("bar")
	b.str(fixtureFile)
	b.u32(10) // lineNumber
	b.u32(tagBlocks)
	b.u32(5) // block count
	b.u32(0)
	b.u32(0)
	b.u32(0)
	b.u32(0)
	b.u32(0)
	b.arcsRecord(0, 1)
	b.arcsRecord(1, 2, 3)
	b.arcsRecord(2, 4)
	b.arcsRecord(3, 4)
	b.linesRecord(0, 10)
	b.linesRecord(1, 13)

	b.u32(0) // sentinel: not tagFunction, ends readFunctions

	return b.buf.Bytes()
}

// buildFixtureGCDA encodes one run's edge counters for the graph above, in
// fn.edges append order: foo's (0->1), (1->2), then bar's (0->1), (1->2),
// (1->3), (2->4), (3->4). Values are chosen so line2=2, line3=1, line10=3,
// and the line-13 branch is {not taken, taken}, matching spec.md §8
// scenario 2 literally (modulo the exact numbers, which come from the
// unavailable original binary fixture).
func buildFixtureGCDA(runs uint32) []byte {
	var b byteBuilder
	b.magic(gcdaMagic)
	b.version(fixtureVersion)
	b.u32(fixtureChecksum)

	// foo: 2 edges
	b.u32(tagFunction)
	b.u32(0)
	b.u32(1) // identifier, matches foo
	b.u32(111)
	b.u32(fixtureChecksum)
	b.str("foo")
	b.u32(tagCounters)
	b.u32(4) // 2 edges * 2 words
	b.counter(2)
	b.counter(1)

	// bar: 5 edges
	b.u32(tagFunction)
	b.u32(0)
	b.u32(2) // identifier, matches bar
	b.u32(222)
	b.u32(fixtureChecksum)
	b.str("bar")
	b.u32(tagCounters)
	b.u32(10) // 5 edges * 2 words
	b.counter(3)
	b.counter(0)
	b.counter(3)
	b.counter(0)
	b.counter(3)

	// object summary: bumps runcounts by `runs`.
	b.u32(tagSummary)
	b.u32(0)
	b.counter(0)
	b.u32(runs)

	return b.buf.Bytes()
}

func TestRead_GCNOOnlyHasZeroCountsAndUnexecutedFunctions(t *testing.T) {
	g := New()
	require.NoError(t, g.Read(bytes.NewReader(buildFixtureGCNO())))
	assert.EqualValues(t, 0, g.Runcounts())

	results, err := g.Finalize(false)
	require.NoError(t, err)
	res, ok := results[fixtureFile]
	require.True(t, ok)

	for _, line := range []uint32{2, 3, 10, 13} {
		count, ok := res.Line(line)
		require.True(t, ok, "line %d should be present with a zero count", line)
		assert.EqualValuesf(t, 0, count, "line %d", line)
	}

	foo, ok := res.Functions["foo"]
	require.True(t, ok)
	assert.False(t, foo.Executed)
	bar, ok := res.Functions["bar"]
	require.True(t, ok)
	assert.False(t, bar.Executed)
}

func TestReadGCDA_PropagatesLineCountsAndBranches(t *testing.T) {
	g := New()
	require.NoError(t, g.Read(bytes.NewReader(buildFixtureGCNO())))
	require.NoError(t, g.ReadGCDA(bytes.NewReader(buildFixtureGCDA(1))))
	assert.EqualValues(t, 1, g.Runcounts())

	results, err := g.Finalize(true)
	require.NoError(t, err)
	res, ok := results[fixtureFile]
	require.True(t, ok)

	line2, ok := res.Line(2)
	require.True(t, ok)
	assert.EqualValues(t, 2, line2)

	line3, ok := res.Line(3)
	require.True(t, ok)
	assert.EqualValues(t, 1, line3)

	line10, ok := res.Line(10)
	require.True(t, ok)
	assert.EqualValues(t, 3, line10)

	branches := res.BranchesForLine(13)
	require.Len(t, branches, 2)
	assert.False(t, branches[0].Taken)
	assert.True(t, branches[1].Taken)
}

func TestReadGCDA_DoubleIngestDoublesCountsAndRuncounts(t *testing.T) {
	g := New()
	require.NoError(t, g.Read(bytes.NewReader(buildFixtureGCNO())))

	gcda := buildFixtureGCDA(1)
	require.NoError(t, g.ReadGCDA(bytes.NewReader(gcda)))
	require.NoError(t, g.ReadGCDA(bytes.NewReader(gcda)))
	assert.EqualValues(t, 2, g.Runcounts())

	results, err := g.Finalize(false)
	require.NoError(t, err)
	res := results[fixtureFile]
	require.NotNil(t, res)

	line2, ok := res.Line(2)
	require.True(t, ok)
	assert.EqualValues(t, 4, line2)
}

func TestDump_UnexecutedGraphShowsHeaderAndZeroRuns(t *testing.T) {
	g := New()
	require.NoError(t, g.Read(bytes.NewReader(buildFixtureGCNO())))

	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "fixture.c")
	source := "int main() {\nreturn 0;\n}\n"
	require.NoError(t, os.WriteFile(sourcePath, []byte(source), 0o644))

	var out bytes.Buffer
	require.NoError(t, g.Dump(sourcePath, fixtureFile, &out))

	dump := out.String()
	assert.Contains(t, dump, "Runs:0")
	assert.Contains(t, dump, "Programs:0")
	assert.Contains(t, dump, "#####:    2:return 0;")
}
