// Package consumer runs a fixed-size worker pool that drains the
// producer's work-item channel, dispatching each item to the GCNO reader,
// the external gcov tool, or a text parser, and folding results into the
// shared merge map, grounded on original_source/src/lib.rs's consumer and
// original_source/src/gcov.rs's run_gcov.
package consumer

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ci-tools/grcovgo/internal/gcnoreader"
	"github.com/ci-tools/grcovgo/internal/merge"
	"github.com/ci-tools/grcovgo/internal/producer"
	"github.com/ci-tools/grcovgo/internal/textcov"
)

// Options configures the worker pool.
type Options struct {
	// Workers is the pool size; defaults to 2x GOMAXPROCS when <= 0.
	Workers int
	// ScratchDir is the parent of each worker's private subdirectory.
	ScratchDir string
	// BranchEnabled requests branch coverage from gcov and the parsers.
	BranchEnabled bool
	// There is no option selecting the reader: GCNO items carrying Buffers
	// always go to the in-process reader, and GCNO/Path items always go to
	// the external gcov tool.
}

// Run starts the worker pool, draining items until the channel closes,
// and returns once every worker has finished (or one has returned a fatal
// error, in which case the others finish their in-flight item and stop).
func Run(ctx context.Context, opts Options, items <-chan producer.WorkItem, out *merge.Map) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = 2 * maxProcs()
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		workerDir := filepath.Join(opts.ScratchDir, "worker-"+strconv.Itoa(i))
		g.Go(func() error {
			return runWorker(ctx, workerDir, opts.BranchEnabled, items, out)
		})
	}
	return g.Wait()
}

func maxProcs() int {
	if n := os.Getenv("GOMAXPROCS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			return v
		}
	}
	return runtime.GOMAXPROCS(0)
}

// gcovMode tracks whether the local gcov binary emits a single summary
// file or one file per translation unit, auto-detected from the first
// GCNO/Path item a worker processes.
type gcovMode int

const (
	gcovModeUnknown gcovMode = iota
	gcovModeSingleFile
	gcovModeMultipleFiles
)

func runWorker(ctx context.Context, workerDir string, branchEnabled bool, items <-chan producer.WorkItem, out *merge.Map) error {
	if err := os.MkdirAll(workerDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating worker scratch directory %q", workerDir)
	}

	var once sync.Once
	mode := gcovModeUnknown

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				return nil
			}
			if err := process(item, workerDir, branchEnabled, &once, &mode, out); err != nil {
				return errors.Wrapf(err, "processing %q", item.Name)
			}
		}
	}
}

func process(item producer.WorkItem, workerDir string, branchEnabled bool, once *sync.Once, mode *gcovMode, out *merge.Map) error {
	switch item.Format {
	case producer.GCNO:
		if item.Buffers != nil {
			return processBuffers(item, branchEnabled, out)
		}
		return processGCNOPath(item, workerDir, branchEnabled, once, mode, out)
	case producer.INFO:
		results, err := textcov.ParseLCOV(bytes.NewReader(item.Content), branchEnabled)
		if err != nil {
			return errors.Wrapf(err, "parsing LCOV content from %q", item.Name)
		}
		out.InsertAll(results)
		return nil
	case producer.JacocoXML:
		results, err := textcov.ParseJacocoXML(bytes.NewReader(item.Content))
		if err != nil {
			return errors.Wrapf(err, "parsing Jacoco XML content from %q", item.Name)
		}
		out.InsertAll(results)
		return nil
	default:
		return errors.Errorf("unknown work item format %d", item.Format)
	}
}

func processBuffers(item producer.WorkItem, branchEnabled bool, out *merge.Map) error {
	g := gcnoreader.New()
	if err := g.Read(bytes.NewReader(item.Buffers.GCNOBuf)); err != nil {
		return errors.Wrapf(err, "reading GCNO buffer for %q", item.Buffers.Stem)
	}
	if err := g.ReadGCDA(bytes.NewReader(item.Buffers.GCDABuf)); err != nil {
		return errors.Wrapf(err, "reading GCDA buffer for %q", item.Buffers.Stem)
	}
	results, err := g.Finalize(branchEnabled)
	if err != nil {
		return errors.Wrapf(err, "finalizing %q", item.Buffers.Stem)
	}
	out.InsertAll(results)
	return nil
}

// processGCNOPath shells out to gcov -i (plus -b -c for branch coverage)
// in workerDir, auto-detecting on the first item whether this gcov
// produces one summary file or one file per translation unit, then parses
// whatever it produced via the GCOV intermediate parser.
func processGCNOPath(item producer.WorkItem, workerDir string, branchEnabled bool, once *sync.Once, mode *gcovMode, out *merge.Map) error {
	args := []string{}
	if branchEnabled {
		args = append(args, "-b", "-c")
	}
	args = append(args, item.Path, "-i")

	cmd := exec.Command("gcov", args...)
	cmd.Dir = workerDir
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "running gcov on %q", item.Path)
	}

	gcovPath := filepath.Join(workerDir, filepath.Base(item.Path)+".gcov")

	var detectErr error
	once.Do(func() {
		if _, err := os.Stat(gcovPath); err == nil {
			*mode = gcovModeSingleFile
		} else if os.IsNotExist(err) {
			*mode = gcovModeMultipleFiles
		} else {
			detectErr = err
		}
	})
	if detectErr != nil {
		return errors.Wrapf(detectErr, "detecting gcov output mode for %q", item.Path)
	}

	if *mode == gcovModeSingleFile {
		return parseAndRemove(gcovPath, out)
	}

	entries, err := os.ReadDir(workerDir)
	if err != nil {
		return errors.Wrapf(err, "listing worker directory %q", workerDir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := parseAndRemove(filepath.Join(workerDir, e.Name()), out); err != nil {
			return err
		}
	}
	return nil
}

func parseAndRemove(gcovPath string, out *merge.Map) error {
	f, err := os.Open(gcovPath)
	if err != nil {
		return errors.Wrapf(err, "opening gcov output %q", gcovPath)
	}
	results, err := textcov.ParseIntermediate(bufio.NewReader(f))
	f.Close()
	if err != nil {
		return errors.Wrapf(err, "parsing gcov output %q", gcovPath)
	}
	if err := os.Remove(gcovPath); err != nil {
		return errors.Wrapf(err, "removing gcov output %q", gcovPath)
	}
	out.InsertAll(results)
	return nil
}
