// Package producer discovers coverage inputs — directories of .gcno/.info
// files and zip archives bundling graph/counter/text data — and feeds them
// to the consumer pool as WorkItems, grounded on
// original_source/src/producer.rs's dir_producer/zip_producer/producer.
package producer

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Format identifies which downstream parser a WorkItem belongs to.
type Format int

const (
	// GCNO work items carry a graph/counter pair, either as a filesystem
	// path (external gcov dispatch) or as in-memory Buffers (LLVM path).
	GCNO Format = iota
	// INFO work items carry LCOV tracefile content.
	INFO
	// JacocoXML work items carry Jacoco XML report content.
	JacocoXML
)

// GCNOBuffers holds an in-memory graph/counter pair for the LLVM fallback
// path, avoiding a filesystem round-trip.
type GCNOBuffers struct {
	Stem    string
	GCNOBuf []byte
	GCDABuf []byte
}

// WorkItem is one unit of ingestion work. Exactly one of Path, Content, or
// Buffers is set, determined by Format and by which producer path built it.
type WorkItem struct {
	Format  Format
	Name    string
	Path    string
	Content []byte
	Buffers *GCNOBuffers
}

const linkedFilesMapName = "linked-files-map.json"

// Run partitions paths into zip archives (".zip" suffix) and directories,
// discovers work items from each, and sends them on items. Run closes
// items once every discovered item has been sent, since this package is
// always the queue's sole producer. It returns the path-mapping buffer, if
// any was found (a zip-embedded linked-files-map.json takes precedence
// over a directory-discovered one).
func Run(scratchDir string, paths []string, items chan<- WorkItem) ([]byte, error) {
	defer close(items)

	var zipPaths, dirPaths []string
	for _, p := range paths {
		if strings.HasSuffix(p, ".zip") {
			zipPaths = append(zipPaths, p)
		} else {
			dirPaths = append(dirPaths, p)
		}
	}

	zipMapping, err := zipProducer(scratchDir, zipPaths, items)
	if err != nil {
		return nil, err
	}
	dirMapping, err := dirProducer(dirPaths, items)
	if err != nil {
		return nil, err
	}

	if zipMapping != nil {
		return zipMapping, nil
	}
	return dirMapping, nil
}

// dirProducer walks each directory recursively, enqueueing .gcno and
// .info files and capturing at most one linked-files-map.json buffer.
func dirProducer(directories []string, items chan<- WorkItem) ([]byte, error) {
	var mapping []byte

	for _, dir := range directories {
		absBase, err := filepath.Abs(dir)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving directory %q", dir)
		}

		err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return errors.Wrapf(err, "walking %q", path)
			}
			if d.IsDir() {
				return nil
			}

			switch {
			case d.Name() == linkedFilesMapName:
				if mapping == nil {
					buf, err := os.ReadFile(path)
					if err != nil {
						return errors.Wrapf(err, "reading %q", path)
					}
					mapping = buf
				}
				return nil
			case strings.HasSuffix(path, ".gcno"):
				abs, err := filepath.Abs(path)
				if err != nil {
					abs = filepath.Join(absBase, strings.TrimPrefix(path, dir))
				}
				items <- WorkItem{Format: GCNO, Name: abs, Path: abs}
			case strings.HasSuffix(path, ".info"):
				buf, err := os.ReadFile(path)
				if err != nil {
					return errors.Wrapf(err, "reading %q", path)
				}
				items <- WorkItem{Format: INFO, Name: path, Content: buf}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return mapping, nil
}

// zipProducer categorizes zip archives by filename substring ("gcno" is
// the graph archive, "gcda" are counter archives, "info"/"grcov" are text
// archives) and stages their contents into scratchDir, enqueueing one
// GCNO work item per graph/counter pair and one INFO item per text entry.
func zipProducer(scratchDir string, zipPaths []string, items chan<- WorkItem) ([]byte, error) {
	if len(zipPaths) == 0 {
		return nil, nil
	}

	var graphArchive *zip.ReadCloser
	var counterArchives, textArchives []*zip.ReadCloser
	defer func() {
		if graphArchive != nil {
			graphArchive.Close()
		}
		for _, a := range counterArchives {
			a.Close()
		}
		for _, a := range textArchives {
			a.Close()
		}
	}()

	for _, p := range zipPaths {
		rc, err := zip.OpenReader(p)
		if err != nil {
			return nil, errors.Wrapf(err, "opening zip archive %q", p)
		}
		switch {
		case strings.Contains(p, "gcno"):
			graphArchive = rc
		case strings.Contains(p, "gcda"):
			counterArchives = append(counterArchives, rc)
		case strings.Contains(p, "info") || strings.Contains(p, "grcov"):
			textArchives = append(textArchives, rc)
		default:
			rc.Close()
			return nil, errors.Errorf("unsupported archive type: %q", p)
		}
	}

	if graphArchive != nil && len(counterArchives) == 0 {
		return nil, errors.New("graph archive present without any counter archive")
	}
	if graphArchive == nil && len(counterArchives) != 0 {
		return nil, errors.New("counter archive present without a graph archive")
	}

	var mapping []byte

	if graphArchive != nil {
		for _, f := range graphArchive.File {
			if f.Name == linkedFilesMapName {
				buf, err := readZipEntry(f)
				if err != nil {
					return nil, err
				}
				mapping = buf
				continue
			}
			if strings.HasSuffix(f.Name, "/") {
				continue
			}

			stemPath := filepath.Join(scratchDir, filepath.FromSlash(f.Name))
			if err := os.MkdirAll(filepath.Dir(stemPath), 0o755); err != nil {
				return nil, errors.Wrapf(err, "creating scratch directory for %q", f.Name)
			}

			ext := filepath.Ext(stemPath)
			stem := strings.TrimSuffix(stemPath, ext)
			gcnoPath1 := stem + "_1.gcno"
			if err := extractZipEntry(f, gcnoPath1); err != nil {
				return nil, err
			}

			gcdaNameInZip := strings.TrimSuffix(f.Name, ext) + ".gcda"

			for k, counterArchive := range counterArchives {
				gcnoPathK := gcnoPath1
				if k != 0 {
					gcnoPathK = stem + "_" + strconv.Itoa(k+1) + ".gcno"
					if err := os.Link(gcnoPath1, gcnoPathK); err != nil {
						return nil, errors.Wrapf(err, "hard-linking %q", gcnoPathK)
					}
				}

				if cf, ok := findZipEntry(counterArchive, gcdaNameInZip); ok {
					gcdaPathK := stem + "_" + strconv.Itoa(k+1) + ".gcda"
					if err := extractZipEntry(cf, gcdaPathK); err != nil {
						return nil, err
					}
				}

				items <- WorkItem{Format: GCNO, Name: gcnoPathK, Path: gcnoPathK}
			}
		}
	}

	for _, archive := range textArchives {
		for _, f := range archive.File {
			if strings.HasSuffix(f.Name, "/") {
				continue
			}
			buf, err := readZipEntry(f)
			if err != nil {
				return nil, err
			}
			items <- WorkItem{Format: INFO, Name: f.Name, Content: buf}
		}
	}

	return mapping, nil
}

func findZipEntry(archive *zip.ReadCloser, name string) (*zip.File, bool) {
	name = filepath.ToSlash(name)
	for _, f := range archive.File {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening zip entry %q", f.Name)
	}
	defer rc.Close()
	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "reading zip entry %q", f.Name)
	}
	return buf, nil
}

func extractZipEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "opening zip entry %q", f.Name)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "creating %q", dest)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return errors.Wrapf(err, "extracting %q", dest)
	}
	return nil
}

