package report

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-tools/grcovgo/internal/covmodel"
	"github.com/ci-tools/grcovgo/internal/merge"
)

func mkEntry(relPath string) merge.Entry {
	r := covmodel.NewCovResult()
	r.SetLine(1, 2)
	r.SetLine(2, 0)
	r.SetBranch(covmodel.BranchKey{Line: 2, Branch: 0}, true)
	r.SetBranch(covmodel.BranchKey{Line: 2, Branch: 1}, false)
	r.Functions["foo"] = &covmodel.Function{Start: 1, Executed: true}
	return merge.Entry{AbsPath: "/src/" + relPath, RelPath: relPath, Result: r}
}

func TestFunctionRanges_SplitsFunctionAndOrphanLines(t *testing.T) {
	r := covmodel.NewCovResult()
	r.SetLine(1, 1) // header line, before any function
	r.SetLine(2, 1)
	r.SetLine(5, 0)
	r.SetLine(10, 1)
	r.Functions["a"] = &covmodel.Function{Start: 2, Executed: true}
	r.Functions["b"] = &covmodel.Function{Start: 10, Executed: false}

	ranges, orphan := functionRanges(r)
	require.Len(t, ranges, 2)
	assert.Equal(t, "a", ranges[0].Name)
	assert.Equal(t, uint32(10), ranges[0].End)
	// line 5 falls within function a's range [2, 10), so it belongs to
	// that function rather than being orphaned.
	assert.False(t, orphan[5])
	// line 1 precedes any function's start, so it is a genuine orphan.
	assert.True(t, orphan[1])
	assert.False(t, orphan[10])
}

func TestWriteLCOV_Basic(t *testing.T) {
	var buf bytes.Buffer
	err := WriteLCOV([]merge.Entry{mkEntry("foo.c")}, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "SF:foo.c")
	assert.Contains(t, out, "FN:1,foo")
	assert.Contains(t, out, "DA:1,2")
	assert.Contains(t, out, "BRDA:2,0,0,1")
	assert.Contains(t, out, "end_of_record")
}

func TestWriteActiveDataETL_EmitsFunctionAndOrphanRecords(t *testing.T) {
	r := covmodel.NewCovResult()
	r.SetLine(1, 1)
	r.SetLine(2, 0)
	r.SetLine(10, 1)
	r.Functions["foo"] = &covmodel.Function{Start: 1, Executed: true}
	entry := merge.Entry{AbsPath: "/src/foo.c", RelPath: "foo.c", Result: r}

	var buf bytes.Buffer
	require.NoError(t, WriteActiveDataETL([]merge.Entry{entry}, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var funcRec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &funcRec))
	assert.NotNil(t, funcRec["method"])

	var orphanRec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &orphanRec))
	assert.Nil(t, orphanRec["method"])
}

func TestWriteCoveralls_SourceDigestFallsBackToUUID(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCoveralls([]merge.Entry{mkEntry("missing.c")}, CoverallsOptions{}, &buf)
	require.NoError(t, err)

	var parsed coverallsReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	require.Len(t, parsed.SourceFiles, 1)
	assert.Len(t, parsed.SourceFiles[0].SourceDigest, 36) // uuid string form
}

func TestWriteCobertura_ProducesValidXMLStructure(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCobertura([]merge.Entry{mkEntry("pkg/foo.c")}, &buf)
	require.NoError(t, err)

	var cov coberturaCoverage
	require.NoError(t, xmlUnmarshalSkippingDoctype(buf.Bytes(), &cov))
	require.Len(t, cov.Packages.Packages, 1)
	assert.Equal(t, "pkg", cov.Packages.Packages[0].Name)
	require.Len(t, cov.Packages.Packages[0].Classes.Classes, 1)
	assert.Equal(t, "foo.c", cov.Packages.Packages[0].Classes.Classes[0].Name)
}

func TestWriteCovDir_AggregatesDirectoryTotals(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCovDir([]merge.Entry{mkEntry("a/foo.c"), mkEntry("a/bar.c")}, &buf)
	require.NoError(t, err)

	var root covDirNode
	require.NoError(t, json.Unmarshal(buf.Bytes(), &root))
	aDir := root.Children["a"]
	require.NotNil(t, aDir)
	assert.Equal(t, 4, aDir.Total) // 2 lines per file x 2 files
	assert.Equal(t, 2, aDir.Covered)
}

func TestWriteFileList_CoveredFirst(t *testing.T) {
	uncovered := covmodel.NewCovResult()
	uncovered.SetLine(1, 0)
	entries := []merge.Entry{
		mkEntry("covered.c"),
		{AbsPath: "/src/uncovered.c", RelPath: "uncovered.c", Result: uncovered},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFileList(entries, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "covered.c", lines[0])
	assert.Equal(t, "uncovered.c", lines[1])
}

func xmlUnmarshalSkippingDoctype(data []byte, v interface{}) error {
	idx := bytes.Index(data, []byte("<coverage"))
	if idx < 0 {
		idx = 0
	}
	return xml.Unmarshal(data[idx:], v)
}
