package textcov

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ci-tools/grcovgo/internal/covmodel"
)

// ParseLegacyText parses the classic per-source `gcov` text dump (one
// file per invocation, header line "-:0:Source:<path>"), grounded on
// original_source/src/parser.rs's parse_old_gcov. Function start lines
// are derived from the position of the "function ..." summary line
// relative to the preceding coverage line, matching the reference
// parser's line_no+1 rule, which is why this is kept separate from
// ParseIntermediate rather than unified behind one entry point.
func ParseLegacyText(r io.Reader, branchEnabled bool) (string, *covmodel.CovResult, error) {
	res := covmodel.NewCovResult()
	var sourceName string
	var lineNo uint32
	var branchNumber int

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	first := true
	for scanner.Scan() {
		l := scanner.Text()

		if first {
			first = false
			parts := strings.SplitN(l, ":", 4)
			if len(parts) == 4 {
				sourceName = parts[3]
			}
			continue
		}

		switch {
		case strings.HasPrefix(l, "function "):
			fields := strings.Fields(l)
			if len(fields) < 4 {
				return "", nil, errors.Errorf("malformed function line: %q", l)
			}
			name := fields[1]
			count, err := strconv.ParseUint(fields[3], 10, 64)
			if err != nil {
				return "", nil, errors.Wrapf(err, "parsing execution count in %q", l)
			}
			res.Functions[name] = &covmodel.Function{Start: lineNo + 1, Executed: count > 0}

		case branchEnabled && strings.HasPrefix(l, "branch "):
			fields := strings.Fields(l)
			if len(fields) < 4 {
				return "", nil, errors.Errorf("malformed branch line: %q", l)
			}
			taken := fields[3] != "0" && fields[3] != "notexec"
			res.SetBranch(covmodel.BranchKey{Line: lineNo, Branch: branchNumber}, taken)
			branchNumber++

		default:
			parts := strings.SplitN(l, ":", 3)
			if len(parts) < 2 {
				continue
			}
			n, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
			if err != nil {
				continue
			}
			lineNo = uint32(n)
			branchNumber = 0

			cover := strings.TrimSpace(parts[0])
			switch {
			case cover == "-":
				continue
			case cover == "#####" || strings.HasPrefix(cover, "-"):
				res.SetLine(lineNo, 0)
			default:
				count, err := strconv.ParseUint(cover, 10, 64)
				if err != nil {
					return "", nil, errors.Wrapf(err, "parsing line count in %q", l)
				}
				res.SetLine(lineNo, count)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, errors.WithStack(err)
	}

	res.Densify()
	return sourceName, res, nil
}

// ParseIntermediate parses gcov's "-i" intermediate text format
// (file:/function:/lcount:/branch: records, one section per source
// file), grounded on original_source/src/parser.rs's parse_gcov.
func ParseIntermediate(r io.Reader) (covmodel.CovResultMap, error) {
	out := make(covmodel.CovResultMap)

	var curFile string
	var cur *covmodel.CovResult
	var branchNumber int

	flush := func() {
		if cur == nil || curFile == "" {
			return
		}
		cur.Densify()
		if existing, ok := out[curFile]; ok {
			existing.Merge(cur)
		} else {
			out[curFile] = cur
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		l := scanner.Text()
		key, value, found := strings.Cut(l, ":")
		if !found {
			continue
		}

		switch key {
		case "file":
			flush()
			curFile = value
			cur = covmodel.NewCovResult()
			branchNumber = 0

		case "function":
			if cur == nil {
				continue
			}
			parts := strings.SplitN(value, ",", 3)
			if len(parts) != 3 {
				return nil, errors.Errorf("malformed function record: %q", l)
			}
			start, err := strconv.ParseUint(parts[0], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing function start in %q", l)
			}
			cur.Functions[parts[2]] = &covmodel.Function{
				Start:    uint32(start),
				Executed: parts[1] != "0",
			}

		case "lcount":
			if cur == nil {
				continue
			}
			branchNumber = 0
			parts := strings.SplitN(value, ",", 2)
			if len(parts) != 2 {
				return nil, errors.Errorf("malformed lcount record: %q", l)
			}
			lineNo, err := strconv.ParseUint(parts[0], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing lcount line number in %q", l)
			}
			if parts[1] == "0" || strings.HasPrefix(parts[1], "-") {
				cur.SetLine(uint32(lineNo), 0)
				continue
			}
			count, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing lcount execution count in %q", l)
			}
			cur.SetLine(uint32(lineNo), count)

		case "branch":
			if cur == nil {
				continue
			}
			parts := strings.SplitN(value, ",", 2)
			if len(parts) != 2 {
				return nil, errors.Errorf("malformed branch record: %q", l)
			}
			lineNo, err := strconv.ParseUint(parts[0], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing branch line number in %q", l)
			}
			cur.SetBranch(covmodel.BranchKey{Line: uint32(lineNo), Branch: branchNumber}, parts[1] == "taken")
			branchNumber++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	flush()

	return out, nil
}
