// Package merge owns the shared accumulation of per-file coverage data
// ingested from many worker goroutines, and the path-rewriting pass that
// turns raw recorded paths into canonical, report-ready source paths.
package merge

import (
	"path/filepath"
	"sync"

	"github.com/ci-tools/grcovgo/internal/covmodel"
)

// Map accumulates CovResults for concurrently-discovered source paths. A
// consumer worker calls Insert or InsertAll once per parsed unit; results for the
// same path merge in place. Grounded on the teacher's mutex-guarded
// container idiom, generalized from a single value type to
// covmodel.CovResult with merge-on-insert semantics.
//
// Keys are canonicalized at insert time against sourceDir, mirroring
// original_source/src/lib.rs's add_results (canonicalize_path(source_dir
// join path), falling back to the raw path on failure) so that spellings
// like "foo/./bar" and "foo/bar" merge into one entry instead of two.
type Map struct {
	mu        sync.Mutex
	data      covmodel.CovResultMap
	sourceDir string
}

// NewMap returns an empty, ready-to-use Map. sourceDir, if non-empty, is
// resolved once up front and used to canonicalize every inserted key; an
// empty sourceDir disables canonicalization and keys on the raw path.
func NewMap(sourceDir string) *Map {
	resolved := sourceDir
	if sourceDir != "" {
		if abs, err := filepath.Abs(sourceDir); err == nil {
			if real, err := filepath.EvalSymlinks(abs); err == nil {
				resolved = real
			}
		}
	}
	return &Map{data: make(covmodel.CovResultMap), sourceDir: resolved}
}

// canonicalKey joins path onto sourceDir and resolves it, falling back to
// the raw path if the join target doesn't exist on disk.
func (m *Map) canonicalKey(path string) string {
	if m.sourceDir == "" {
		return path
	}
	joined := filepath.Join(m.sourceDir, path)
	if real, err := filepath.EvalSymlinks(joined); err == nil {
		return real
	}
	return path
}

// Insert folds result into the entry for path, merging with whatever is
// already there.
func (m *Map) Insert(path string, result *covmodel.CovResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.canonicalKey(path)
	if existing, ok := m.data[key]; ok {
		existing.Merge(result)
		return
	}
	m.data[key] = result
}

// InsertAll folds every entry of a freshly-parsed CovResultMap into m.
func (m *Map) InsertAll(results covmodel.CovResultMap) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for path, result := range results {
		key := m.canonicalKey(path)
		if existing, ok := m.data[key]; ok {
			existing.Merge(result)
			continue
		}
		m.data[key] = result
	}
}

// Snapshot returns the accumulated map. Callers must only invoke this
// after every producer/consumer goroutine has finished — Map does not
// support concurrent Snapshot and Insert.
func (m *Map) Snapshot() covmodel.CovResultMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}
