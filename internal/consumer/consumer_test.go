package consumer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-tools/grcovgo/internal/merge"
	"github.com/ci-tools/grcovgo/internal/producer"
)

func TestProcess_INFOParsesIntoMap(t *testing.T) {
	out := merge.NewMap("")
	item := producer.WorkItem{
		Format:  producer.INFO,
		Name:    "trace.info",
		Content: []byte("SF:foo.c\nDA:1,2\nend_of_record\n"),
	}

	var once sync.Once
	mode := gcovModeUnknown
	require.NoError(t, process(item, t.TempDir(), false, &once, &mode, out))

	snap := out.Snapshot()
	require.Contains(t, snap, "foo.c")
	count, ok := snap["foo.c"].Line(1)
	require.True(t, ok)
	assert.EqualValues(t, 2, count)
}

func TestProcess_UnknownFormatErrors(t *testing.T) {
	out := merge.NewMap("")
	item := producer.WorkItem{Format: producer.Format(99)}

	var once sync.Once
	mode := gcovModeUnknown
	err := process(item, t.TempDir(), false, &once, &mode, out)
	assert.Error(t, err)
}
