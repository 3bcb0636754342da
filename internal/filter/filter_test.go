package filter

import (
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-tools/grcovgo/internal/covmodel"
)

func mkResult(lines map[uint32]uint64, functions map[string]bool) *covmodel.CovResult {
	r := covmodel.NewCovResult()
	for l, c := range lines {
		r.SetLine(l, c)
	}
	for name, executed := range functions {
		r.Functions[name] = &covmodel.Function{Executed: executed}
	}
	return r
}

func TestIsCovered_NoLinesExecuted(t *testing.T) {
	r := mkResult(map[uint32]uint64{1: 0, 2: 0}, nil)
	assert.False(t, IsCovered(r))
}

func TestIsCovered_NoFunctions(t *testing.T) {
	r := mkResult(map[uint32]uint64{1: 21, 2: 0}, nil)
	assert.True(t, IsCovered(r))
}

func TestIsCovered_TopLevelOnlyExecuted(t *testing.T) {
	r := mkResult(map[uint32]uint64{1: 21}, map[string]bool{"top-level": true})
	assert.True(t, IsCovered(r))
}

func TestIsCovered_OnlyTopLevelAndOthersNotExecuted(t *testing.T) {
	r := mkResult(map[uint32]uint64{1: 21}, map[string]bool{"top-level": true, "f": false})
	assert.False(t, IsCovered(r))
}

func TestIsCovered_NonTopLevelExecuted(t *testing.T) {
	r := mkResult(map[uint32]uint64{1: 21}, map[string]bool{"top-level": true, "f": true})
	assert.True(t, IsCovered(r))
}

func TestConfig_Scan(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/src.c"
	content := "a\nLCOV_EXCL_START\nb\nc\nLCOV_EXCL_STOP\nd\nLCOV_EXCL_LINE\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Config{
		ExclStart: regexp.MustCompile("LCOV_EXCL_START"),
		ExclStop:  regexp.MustCompile("LCOV_EXCL_STOP"),
		ExclLine:  regexp.MustCompile("LCOV_EXCL_LINE"),
	}

	exclusions, err := cfg.Scan(path)
	require.NoError(t, err)

	byLine := make(map[uint32]Kind)
	for _, e := range exclusions {
		byLine[e.LineNumber] = e.Kind
	}

	// line 2 is the START marker itself, 3 and 4 are within range; the
	// STOP marker on line 5 turns exclusion off before its own line is
	// classified, so line 5 itself is not excluded.
	assert.Equal(t, Line, byLine[2])
	assert.Equal(t, Line, byLine[3])
	assert.Equal(t, Line, byLine[4])
	_, excluded5 := byLine[5]
	assert.False(t, excluded5)
	_, excludedD := byLine[6]
	assert.False(t, excludedD)
	assert.Equal(t, Line, byLine[7])
}
