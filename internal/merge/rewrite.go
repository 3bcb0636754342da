package merge

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/mattn/go-zglob"
	"github.com/pkg/errors"

	"github.com/ci-tools/grcovgo/internal/covmodel"
)

// PathMapping maps a recorded source path (as the compiler saw it,
// case-folded on its first rune per the reference implementation) to a
// path relative to --source-dir.
type PathMapping map[string]string

// Options configures the path-rewriting pass, grounded on
// original_source/src/path_rewriting.rs's rewrite_paths.
type Options struct {
	PathMapping        PathMapping
	SourceDir          string
	PrefixDir          string
	IgnoreNonRelative  bool
	IgnoreNotExisting  bool
	IgnoreGlobs        []string
}

// Entry is one rewritten, report-ready coverage record.
type Entry struct {
	AbsPath string
	RelPath string
	Result  *covmodel.CovResult
}

func toLowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func toUpperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Rewrite turns the raw path-keyed result map into canonical Entry
// values, applying path-mapping/prefix/source-root precedence, optional
// non-relative and ignore-glob filtering, and optional existence
// checking.
func Rewrite(results covmodel.CovResultMap, opts Options) ([]Entry, error) {
	sourceDir := opts.SourceDir
	if sourceDir != "" {
		abs, err := filepath.Abs(sourceDir)
		if err != nil {
			return nil, errors.Wrap(err, "resolving source directory")
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, errors.Wrap(err, "source directory does not exist")
		}
		sourceDir = resolved
	}

	var out []Entry
	for rawPath, result := range results {
		path := filepath.ToSlash(rawPath)

		relPath, foundInMapping := mapPath(path, opts.PathMapping, opts.PrefixDir, sourceDir)

		if opts.IgnoreNonRelative && filepath.IsAbs(relPath) {
			continue
		}

		absPath := relPath
		if !filepath.IsAbs(relPath) {
			absPath = filepath.Join(sourceDir, relPath)
		}
		if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
			absPath = resolved
		}

		if !foundInMapping {
			if sourceDir != "" && strings.HasPrefix(absPath, sourceDir+string(filepath.Separator)) {
				relPath = strings.TrimPrefix(absPath, sourceDir+string(filepath.Separator))
			} else {
				relPath = absPath
			}
		}

		if len(opts.IgnoreGlobs) > 0 {
			ignored, err := matchesAny(opts.IgnoreGlobs, relPath)
			if err != nil {
				return nil, err
			}
			if ignored {
				continue
			}
		}

		if opts.IgnoreNotExisting {
			if _, err := os.Stat(absPath); err != nil {
				continue
			}
		}

		out = append(out, Entry{
			AbsPath: absPath,
			RelPath: filepath.ToSlash(relPath),
			Result:  result,
		})
	}

	return out, nil
}

func mapPath(path string, mapping PathMapping, prefixDir, sourceDir string) (string, bool) {
	if mapping != nil {
		if p, ok := mapping[toLowerFirst(path)]; ok {
			return p, true
		}
		if p, ok := mapping[toUpperFirst(path)]; ok {
			return p, true
		}
	}
	if prefixDir != "" && strings.HasPrefix(path, prefixDir) {
		return strings.TrimPrefix(strings.TrimPrefix(path, prefixDir), "/"), false
	}
	if sourceDir != "" && strings.HasPrefix(path, sourceDir) {
		return strings.TrimPrefix(strings.TrimPrefix(path, sourceDir), "/"), false
	}
	return path, false
}

func matchesAny(globs []string, path string) (bool, error) {
	for _, g := range globs {
		ok, err := zglob.Match(g, path)
		if err != nil {
			return false, errors.Wrapf(err, "matching ignore glob %q", g)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
