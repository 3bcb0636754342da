package report

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/ci-tools/grcovgo/internal/merge"
)

// CoverallsOptions configures the Coveralls JSON emitter.
type CoverallsOptions struct {
	RepoToken        string
	ServiceName      string
	ServiceJobID     string
	ServiceNumber    string
	ServicePullReq   string
	CommitSHA        string
	WithFunctionInfo bool
}

type coverallsReport struct {
	RepoToken     string            `json:"repo_token,omitempty"`
	ServiceName   string            `json:"service_name,omitempty"`
	ServiceJobID  string            `json:"service_job_id,omitempty"`
	ServiceNumber string            `json:"service_number,omitempty"`
	ServicePullNo string            `json:"service_pull_request,omitempty"`
	Git           *coverallsGit     `json:"git,omitempty"`
	SourceFiles   []coverallsSource `json:"source_files"`
}

type coverallsGit struct {
	Head struct {
		ID string `json:"id"`
	} `json:"head"`
}

type coverallsSource struct {
	Name          string              `json:"name"`
	SourceDigest  string              `json:"source_digest"`
	Coverage      []*uint64           `json:"coverage"`
	Branches      []int               `json:"branches,omitempty"`
	Functions     []coverallsFunction `json:"functions,omitempty"`
}

type coverallsFunction struct {
	Name       string `json:"name"`
	LineNumber uint32 `json:"line_number"`
	Execution  uint64 `json:"execution_count"`
}

// getDigest returns the MD5 hex digest of a source file's contents, or a
// random UUID v4 when the file can't be read, matching output.rs's
// get_digest fallback.
func getDigest(absPath string) string {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return uuid.NewString()
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// WriteCoveralls emits a Coveralls API JSON report, grounded on
// output.rs's output_coveralls.
func WriteCoveralls(entries []merge.Entry, opts CoverallsOptions, w io.Writer) error {
	report := coverallsReport{
		RepoToken:     opts.RepoToken,
		ServiceName:   opts.ServiceName,
		ServiceJobID:  opts.ServiceJobID,
		ServiceNumber: opts.ServiceNumber,
		ServicePullNo: opts.ServicePullReq,
	}
	if opts.CommitSHA != "" {
		report.Git = &coverallsGit{}
		report.Git.Head.ID = opts.CommitSHA
	}

	for _, entry := range sortedEntries(entries) {
		result := entry.Result
		lines := result.Lines()

		maxLine := uint32(0)
		for _, l := range lines {
			if l.Line > maxLine {
				maxLine = l.Line
			}
		}

		coverage := make([]*uint64, maxLine)
		for _, l := range lines {
			if l.Line == 0 {
				continue
			}
			count := l.Count
			coverage[l.Line-1] = &count
		}

		var branches []int
		for _, b := range result.Branches() {
			taken := 0
			if b.Taken {
				taken = 1
			}
			branches = append(branches, int(b.Key.Line), 0, b.Key.Branch, taken)
		}

		src := coverallsSource{
			Name:         entry.RelPath,
			SourceDigest: getDigest(entry.AbsPath),
			Coverage:     coverage,
			Branches:     branches,
		}

		if opts.WithFunctionInfo {
			for name, fn := range result.Functions {
				exec := uint64(0)
				if fn.Executed {
					exec = 1
				}
				src.Functions = append(src.Functions, coverallsFunction{
					Name:       name,
					LineNumber: fn.Start,
					Execution:  exec,
				})
			}
		}

		report.SourceFiles = append(report.SourceFiles, src)
	}

	enc := json.NewEncoder(w)
	return enc.Encode(report)
}
