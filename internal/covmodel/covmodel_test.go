package covmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_LinesAdd(t *testing.T) {
	a := NewCovResult()
	a.SetLine(1, 2)
	b := NewCovResult()
	b.SetLine(1, 3)

	merged := Merge(a, b)
	count, ok := merged.Line(1)
	require.True(t, ok)
	assert.EqualValues(t, 5, count)
}

func TestMerge_BranchesOR(t *testing.T) {
	a := NewCovResult()
	a.SetLine(10, 1)
	a.SetBranch(BranchKey{Line: 10, Branch: 0}, false)
	b := NewCovResult()
	b.SetLine(10, 1)
	b.SetBranch(BranchKey{Line: 10, Branch: 0}, true)

	merged := Merge(a, b)
	taken, ok := merged.Branch(BranchKey{Line: 10, Branch: 0})
	require.True(t, ok)
	assert.True(t, taken)
}

func TestMerge_FunctionsUnionExecutedOR(t *testing.T) {
	a := NewCovResult()
	a.Functions["foo"] = &Function{Start: 5, Executed: false}
	b := NewCovResult()
	b.Functions["foo"] = &Function{Start: 5, Executed: true}
	b.Functions["bar"] = &Function{Start: 9, Executed: false}

	merged := Merge(a, b)
	require.Contains(t, merged.Functions, "foo")
	require.Contains(t, merged.Functions, "bar")
	assert.True(t, merged.Functions["foo"].Executed)
}

func TestMerge_CommutativeAndAssociative(t *testing.T) {
	mk := func() *CovResult {
		r := NewCovResult()
		r.SetLine(1, 1)
		r.SetBranch(BranchKey{Line: 1, Branch: 0}, true)
		return r
	}
	a, b, c := mk(), mk(), mk()

	ab := Merge(a, b)
	ba := Merge(b, a)
	assert.Equal(t, ab.Lines(), ba.Lines())

	abc := Merge(Merge(a, b), c)
	acb := Merge(a, Merge(b, c))
	assert.Equal(t, abc.Lines(), acb.Lines())
}

func TestDensify_ContiguousIndices(t *testing.T) {
	r := NewCovResult()
	r.SetLine(5, 1)
	r.SetBranch(BranchKey{Line: 5, Branch: 0}, true)
	r.SetBranch(BranchKey{Line: 5, Branch: 3}, false)

	r.Densify()

	entries := r.BranchesForLine(5)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].Key.Branch)
	assert.Equal(t, 1, entries[1].Key.Branch)
}

func TestLines_PreservesInsertionOrder(t *testing.T) {
	r := NewCovResult()
	r.SetLine(30, 1)
	r.SetLine(10, 2)
	r.SetLine(20, 3)

	got := r.Lines()
	require.Len(t, got, 3)
	assert.Equal(t, []uint32{30, 10, 20}, []uint32{got[0].Line, got[1].Line, got[2].Line})
}
