// Package orchestrator wires the producer, consumer pool, merger, filter,
// and report emitters into a single run, owning the scratch directory
// lifecycle. Grounded on the teacher's internal/cmd/run/run.go
// opts-struct-then-component-construction-then-cleanup shape.
package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"

	"github.com/ci-tools/grcovgo/internal/consumer"
	"github.com/ci-tools/grcovgo/internal/filter"
	"github.com/ci-tools/grcovgo/internal/merge"
	"github.com/ci-tools/grcovgo/internal/producer"
	"github.com/ci-tools/grcovgo/internal/report"
	"github.com/ci-tools/grcovgo/pkg/log"
)

// OutputType selects a report emitter.
type OutputType string

const (
	OutputLCOV       OutputType = "lcov"
	OutputADE        OutputType = "ade"
	OutputCoveralls  OutputType = "coveralls"
	OutputCoveralls2 OutputType = "coveralls+"
	OutputCovDir     OutputType = "covdir"
	OutputCobertura  OutputType = "cobertura"
	OutputFiles      OutputType = "files"
)

// FilterMode restricts emitted files by coverage.
type FilterMode string

const (
	FilterNone      FilterMode = ""
	FilterCovered   FilterMode = "covered"
	FilterUncovered FilterMode = "uncovered"
)

// Options is the full set of knobs accepted by the grcovgo CLI (spec.md
// §6), validated by the caller before Run is invoked.
type Options struct {
	InputPaths []string
	OutputType OutputType
	OutputPath string

	SourceDir string
	PrefixDir string

	Token            string
	ServiceName      string
	ServiceNumber    string
	ServiceJobNumber string
	CommitSHA        string

	IgnoreNotExisting bool
	IgnoreGlobs       []string
	PathMappingFile   string
	BranchEnabled     bool
	Filter            FilterMode
	Threads           int

	// Exclusion directive patterns (spec.md §4.H), matched against each
	// rewritten source file's lines. Empty disables the corresponding
	// directive.
	ExclLine    string
	ExclStart   string
	ExclStop    string
	ExclBrLine  string
	ExclBrStart string
	ExclBrStop  string

	// UseLLVM requests the in-process LLVM coverage reader instead of
	// shelling out to gcov. No producer in this implementation emits the
	// GCNOBuffers work items that path consumes (see DESIGN.md); Run
	// rejects it up front rather than silently falling back to gcov.
	UseLLVM bool

	ScratchDir string // if empty, a temp directory is created and removed on exit
}

// Run executes the full pipeline: discover inputs, ingest them
// concurrently, merge and rewrite paths, filter, and emit the requested
// report.
func Run(ctx context.Context, opts Options) error {
	if opts.UseLLVM {
		return errors.New("--llvm is not implemented: no producer in this build emits LLVM-exported GCNO/GCDA buffers, use external gcov instead")
	}

	scratchDir := opts.ScratchDir
	if scratchDir == "" {
		dir, err := os.MkdirTemp("", "grcovgo-")
		if err != nil {
			return errors.Wrap(err, "creating scratch directory")
		}
		scratchDir = dir
		defer os.RemoveAll(scratchDir)
	}

	resultMap := merge.NewMap(opts.SourceDir)
	items := make(chan producer.WorkItem, 64)

	// Discover and ingest overlap: the producer walks InputPaths and feeds
	// items to the consumer pool as it goes. The spinner tracks whichever
	// phase is still outstanding, and StopCurrentProgressSpinner reports
	// whichever one actually failed.
	log.CreateCurrentProgressSpinner(nil, log.DiscoverInProgressMsg)

	var producerMapping []byte
	var producerErr error
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		producerMapping, producerErr = producer.Run(scratchDir, opts.InputPaths, items)
	}()

	log.UpdateCurrentProgressSpinner(log.IngestInProgressMsg)

	consumerOpts := consumer.Options{
		Workers:       opts.Threads,
		ScratchDir:    scratchDir,
		BranchEnabled: opts.BranchEnabled,
	}
	if err := consumer.Run(ctx, consumerOpts, items, resultMap); err != nil {
		<-producerDone
		log.StopCurrentProgressSpinner(log.GetPtermErrorStyle(), log.IngestInProgressErrorMsg)
		return errors.Wrap(err, "consumer pool")
	}

	<-producerDone
	if producerErr != nil {
		log.StopCurrentProgressSpinner(log.GetPtermErrorStyle(), log.DiscoverInProgressErrorMsg)
		return errors.Wrap(producerErr, "producer")
	}
	log.StopCurrentProgressSpinner(log.GetPtermSuccessStyle(), log.IngestInProgressSuccessMsg)

	log.CreateCurrentProgressSpinner(nil, log.EmitInProgressMsg)

	pathMapping, err := resolvePathMapping(opts.PathMappingFile, producerMapping)
	if err != nil {
		log.StopCurrentProgressSpinner(log.GetPtermErrorStyle(), log.EmitInProgressErrorMsg)
		return err
	}

	rewriteOpts := merge.Options{
		PathMapping:       pathMapping,
		SourceDir:         opts.SourceDir,
		PrefixDir:         opts.PrefixDir,
		IgnoreNotExisting: opts.IgnoreNotExisting,
		IgnoreGlobs:       opts.IgnoreGlobs,
	}
	entries, err := merge.Rewrite(resultMap.Snapshot(), rewriteOpts)
	if err != nil {
		log.StopCurrentProgressSpinner(log.GetPtermErrorStyle(), log.EmitInProgressErrorMsg)
		return errors.Wrap(err, "rewriting paths")
	}

	excludeCfg, err := buildExcludeConfig(opts)
	if err != nil {
		log.StopCurrentProgressSpinner(log.GetPtermErrorStyle(), log.EmitInProgressErrorMsg)
		return err
	}
	if excludeCfg.Active() {
		if err := applyExclusions(entries, excludeCfg); err != nil {
			log.StopCurrentProgressSpinner(log.GetPtermErrorStyle(), log.EmitInProgressErrorMsg)
			return err
		}
	}

	entries = applyFilterMode(entries, opts.Filter)

	out, closeOut, err := openOutput(opts.OutputPath)
	if err != nil {
		log.StopCurrentProgressSpinner(log.GetPtermErrorStyle(), log.EmitInProgressErrorMsg)
		return err
	}
	defer closeOut()

	if err := emit(opts, entries, out); err != nil {
		log.StopCurrentProgressSpinner(log.GetPtermErrorStyle(), log.EmitInProgressErrorMsg)
		return err
	}

	log.StopCurrentProgressSpinner(log.GetPtermSuccessStyle(), log.EmitInProgressSuccessMsg)
	return nil
}

func resolvePathMapping(pathMappingFile string, producerMapping []byte) (merge.PathMapping, error) {
	buf := producerMapping
	if pathMappingFile != "" {
		data, err := os.ReadFile(pathMappingFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading path mapping file %q", pathMappingFile)
		}
		buf = data
	}
	if buf == nil {
		return nil, nil
	}

	var mapping merge.PathMapping
	if err := json.Unmarshal(buf, &mapping); err != nil {
		return nil, errors.Wrap(err, "parsing path mapping JSON")
	}
	return mapping, nil
}

// buildExcludeConfig compiles the configured exclusion-directive patterns
// into a filter.Config. An empty pattern leaves the corresponding
// directive disabled.
func buildExcludeConfig(opts Options) (filter.Config, error) {
	var cfg filter.Config
	fields := []struct {
		pattern string
		target  **regexp.Regexp
		name    string
	}{
		{opts.ExclLine, &cfg.ExclLine, "excl-line"},
		{opts.ExclStart, &cfg.ExclStart, "excl-start"},
		{opts.ExclStop, &cfg.ExclStop, "excl-stop"},
		{opts.ExclBrLine, &cfg.ExclBrLine, "excl-br-line"},
		{opts.ExclBrStart, &cfg.ExclBrStart, "excl-br-start"},
		{opts.ExclBrStop, &cfg.ExclBrStop, "excl-br-stop"},
	}
	for _, f := range fields {
		if f.pattern == "" {
			continue
		}
		re, err := regexp.Compile(f.pattern)
		if err != nil {
			return filter.Config{}, errors.Wrapf(err, "compiling --%s pattern", f.name)
		}
		*f.target = re
	}
	return cfg, nil
}

// applyExclusions scans each entry's source file for exclusion directives
// and deletes the matching lines/branches from its result in place.
func applyExclusions(entries []merge.Entry, cfg filter.Config) error {
	for i, e := range entries {
		exclusions, err := cfg.Scan(e.AbsPath)
		if err != nil {
			return errors.Wrapf(err, "scanning %q for exclusion directives", e.AbsPath)
		}
		if len(exclusions) > 0 {
			entries[i].Result = filter.Apply(e.Result, exclusions)
		}
	}
	return nil
}

func applyFilterMode(entries []merge.Entry, mode FilterMode) []merge.Entry {
	if mode == FilterNone {
		return entries
	}
	out := make([]merge.Entry, 0, len(entries))
	for _, e := range entries {
		covered := filter.IsCovered(e.Result)
		if (mode == FilterCovered && covered) || (mode == FilterUncovered && !covered) {
			out = append(out, e)
		}
	}
	return out
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, errors.Wrapf(err, "creating output directory for %q", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "creating output file %q", path)
	}
	return f, func() { f.Close() }, nil
}

func emit(opts Options, entries []merge.Entry, w io.Writer) error {
	switch opts.OutputType {
	case OutputLCOV, "":
		return report.WriteLCOV(entries, w)
	case OutputADE:
		return report.WriteActiveDataETL(entries, w)
	case OutputCoveralls, OutputCoveralls2:
		coverallsOpts := report.CoverallsOptions{
			RepoToken:        opts.Token,
			ServiceName:      opts.ServiceName,
			ServiceNumber:    opts.ServiceNumber,
			ServiceJobID:     opts.ServiceJobNumber,
			CommitSHA:        opts.CommitSHA,
			WithFunctionInfo: opts.OutputType == OutputCoveralls2,
		}
		return report.WriteCoveralls(entries, coverallsOpts, w)
	case OutputCobertura:
		return report.WriteCobertura(entries, w)
	case OutputCovDir:
		return report.WriteCovDir(entries, w)
	case OutputFiles:
		return report.WriteFileList(entries, w)
	default:
		return errors.Errorf("unknown output type %q", opts.OutputType)
	}
}
