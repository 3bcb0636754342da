package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_IngestsInfoFilesAndEmitsLCOV(t *testing.T) {
	inputDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "trace.info"), []byte(
		"SF:foo.c\nFN:1,foo\nFNDA:1,foo\nDA:1,2\nDA:2,0\nend_of_record\n",
	), 0o644))

	outputPath := filepath.Join(t.TempDir(), "out.lcov")

	err := Run(context.Background(), Options{
		InputPaths: []string{inputDir},
		OutputType: OutputLCOV,
		OutputPath: outputPath,
		Threads:    2,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SF:foo.c")
	assert.Contains(t, string(data), "DA:1,2")
}

func TestApplyFilterMode_NoneIsPassthrough(t *testing.T) {
	entries := applyFilterMode(nil, FilterNone)
	assert.Nil(t, entries)
}

func TestRun_RejectsUseLLVM(t *testing.T) {
	err := Run(context.Background(), Options{
		InputPaths: []string{t.TempDir()},
		UseLLVM:    true,
	})
	assert.Error(t, err)
}

func TestRun_AppliesLineExclusionDirectives(t *testing.T) {
	sourceDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "foo.c"), []byte(
		"int main() {\nreturn 0; // GRCOV_EXCL_LINE\n}\n",
	), 0o644))

	inputDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "trace.info"), []byte(
		"SF:foo.c\nDA:1,1\nDA:2,0\nend_of_record\n",
	), 0o644))

	outputPath := filepath.Join(t.TempDir(), "out.lcov")

	err := Run(context.Background(), Options{
		InputPaths: []string{inputDir},
		OutputType: OutputLCOV,
		OutputPath: outputPath,
		SourceDir:  sourceDir,
		ExclLine:   "GRCOV_EXCL_LINE",
		Threads:    2,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DA:1,1")
	assert.NotContains(t, string(data), "DA:2,")
}

func TestRun_RejectsInvalidExclusionPattern(t *testing.T) {
	err := Run(context.Background(), Options{
		InputPaths: []string{t.TempDir()},
		ExclLine:   "(unterminated",
	})
	assert.Error(t, err)
}
