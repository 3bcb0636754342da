// Package cli implements the grcovgo root command: a single flat flag
// surface (spec.md §6) bound via viper, matching the teacher's
// cobra-command + opts-struct + PersistentPreRunE convention.
package cli

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ci-tools/grcovgo/internal/cliutil"
	"github.com/ci-tools/grcovgo/internal/orchestrator"
	"github.com/ci-tools/grcovgo/pkg/log"
)

type rootOptions struct {
	OutputType       string   `mapstructure:"output-type"`
	OutputPath       string   `mapstructure:"output-path"`
	SourceDir        string   `mapstructure:"source-dir"`
	PrefixDir        string   `mapstructure:"prefix-dir"`
	Token            string   `mapstructure:"token"`
	ServiceName      string   `mapstructure:"service-name"`
	ServiceNumber    string   `mapstructure:"service-number"`
	ServiceJobNumber string   `mapstructure:"service-job-number"`
	CommitSHA        string   `mapstructure:"commit-sha"`
	IgnoreNotExist   bool     `mapstructure:"ignore-not-existing"`
	Ignore           []string `mapstructure:"ignore"`
	UseLLVM          bool     `mapstructure:"llvm"`
	PathMapping      string   `mapstructure:"path-mapping"`
	Branch           bool     `mapstructure:"branch"`
	Filter           string   `mapstructure:"filter"`
	Threads          int      `mapstructure:"threads"`

	ExclLine    string `mapstructure:"excl-line"`
	ExclStart   string `mapstructure:"excl-start"`
	ExclStop    string `mapstructure:"excl-stop"`
	ExclBrLine  string `mapstructure:"excl-br-line"`
	ExclBrStart string `mapstructure:"excl-br-start"`
	ExclBrStop  string `mapstructure:"excl-br-stop"`

	inputPaths []string
}

var validOutputTypes = map[string]bool{
	"lcov": true, "ade": true, "coveralls": true, "coveralls+": true,
	"covdir": true, "cobertura": true, "files": true,
}

func (opts *rootOptions) validate() error {
	if len(opts.inputPaths) == 0 {
		return cliutil.NewIncorrectUsageError("at least one input directory or zip archive is required")
	}

	if opts.OutputType == "" {
		opts.OutputType = "lcov"
	}
	if !validOutputTypes[opts.OutputType] {
		return cliutil.NewIncorrectUsageError(fmt.Sprintf("invalid --output-type %q", opts.OutputType))
	}

	if opts.OutputType == "coveralls" || opts.OutputType == "coveralls+" {
		hasToken := opts.Token != ""
		hasService := opts.ServiceName != "" && opts.ServiceJobNumber != ""
		if !hasToken && !hasService {
			return cliutil.NewIncorrectUsageError(
				"--token, or both --service-name and --service-job-number, are required for coveralls output")
		}
	}

	switch opts.Filter {
	case "", "covered", "uncovered":
	default:
		return cliutil.NewIncorrectUsageError(fmt.Sprintf("invalid --filter %q", opts.Filter))
	}

	if opts.SourceDir != "" {
		if info, err := os.Stat(opts.SourceDir); err != nil || !info.IsDir() {
			return cliutil.NewIncorrectUsageError(fmt.Sprintf("--source-dir %q does not exist", opts.SourceDir))
		}
	}

	for name, pattern := range map[string]string{
		"excl-line": opts.ExclLine, "excl-start": opts.ExclStart, "excl-stop": opts.ExclStop,
		"excl-br-line": opts.ExclBrLine, "excl-br-start": opts.ExclBrStart, "excl-br-stop": opts.ExclBrStop,
	} {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return cliutil.NewIncorrectUsageError(fmt.Sprintf("invalid --%s pattern: %v", name, err))
		}
	}

	return nil
}

func (opts *rootOptions) toOrchestratorOptions() orchestrator.Options {
	return orchestrator.Options{
		InputPaths:        opts.inputPaths,
		OutputType:        orchestrator.OutputType(opts.OutputType),
		OutputPath:        opts.OutputPath,
		SourceDir:         opts.SourceDir,
		PrefixDir:         opts.PrefixDir,
		Token:             opts.Token,
		ServiceName:       opts.ServiceName,
		ServiceNumber:     opts.ServiceNumber,
		ServiceJobNumber:  opts.ServiceJobNumber,
		CommitSHA:         opts.CommitSHA,
		IgnoreNotExisting: opts.IgnoreNotExist,
		IgnoreGlobs:       opts.Ignore,
		PathMappingFile:   opts.PathMapping,
		BranchEnabled:     opts.Branch,
		Filter:            orchestrator.FilterMode(opts.Filter),
		Threads:           opts.Threads,
		UseLLVM:           opts.UseLLVM,
		ExclLine:          opts.ExclLine,
		ExclStart:         opts.ExclStart,
		ExclStop:          opts.ExclStop,
		ExclBrLine:        opts.ExclBrLine,
		ExclBrStart:       opts.ExclBrStart,
		ExclBrStop:        opts.ExclBrStop,
	}
}

// New builds the grcovgo root command.
func New() (*cobra.Command, error) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "grcovgo [input-paths...]",
		Short:         "Aggregate and convert coverage data from multiple sources",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("plain") {
				pterm.DisableColor()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.Unmarshal(opts); err != nil {
				return errors.WithStack(err)
			}
			opts.inputPaths = args

			if err := opts.validate(); err != nil {
				return err
			}

			err := orchestrator.Run(context.Background(), opts.toOrchestratorOptions())
			if err != nil {
				log.Error(err)
				return cliutil.ErrSilent
			}
			return nil
		},
	}

	if err := bindFlags(cmd); err != nil {
		return nil, err
	}

	return cmd, nil
}

func bindFlags(cmd *cobra.Command) error {
	cmd.Flags().StringP("output-type", "t", "lcov", "Output type: lcov, ade, coveralls, coveralls+, covdir, cobertura, files")
	cmd.Flags().StringP("output-path", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringP("source-dir", "s", "", "Source root directory")
	cmd.Flags().StringP("prefix-dir", "p", "", "Prefix to strip from recorded paths before mapping")
	cmd.Flags().String("token", "", "Coveralls repo token")
	cmd.Flags().String("service-name", "", "Coveralls service name")
	cmd.Flags().String("service-number", "", "Coveralls service number")
	cmd.Flags().String("service-job-number", "", "Coveralls service job number")
	cmd.Flags().String("commit-sha", "", "Commit SHA reported to Coveralls")
	cmd.Flags().String("path-mapping", "", "Path mapping JSON file (overrides auto-detected linked-files-map.json)")
	cmd.Flags().String("filter", "", "Keep only files matching: covered, uncovered")
	cmd.Flags().Bool("ignore-not-existing", false, "Drop files that do not exist on disk")
	cmd.Flags().StringArray("ignore", nil, "Glob pattern of files to ignore (repeatable)")
	cmd.Flags().Bool("llvm", false, "Use the in-process LLVM reader instead of external gcov (not implemented in this build)")
	cmd.Flags().Bool("branch", false, "Parse and emit branch coverage")
	cmd.Flags().Int("threads", 0, "Worker pool size (default: 2x hardware parallelism)")
	cmd.Flags().String("excl-line", "", "Regex matching a single line to exclude from line coverage")
	cmd.Flags().String("excl-start", "", "Regex marking the start of an excluded line range")
	cmd.Flags().String("excl-stop", "", "Regex marking the end of an excluded line range")
	cmd.Flags().String("excl-br-line", "", "Regex matching a single line to exclude from branch coverage")
	cmd.Flags().String("excl-br-start", "", "Regex marking the start of an excluded branch range")
	cmd.Flags().String("excl-br-stop", "", "Regex marking the end of an excluded branch range")
	cmd.PersistentFlags().Bool("plain", false, "Disable colored output")

	for _, name := range []string{
		"output-type", "output-path", "source-dir", "prefix-dir", "token",
		"service-name", "service-number", "service-job-number", "commit-sha",
		"path-mapping", "filter", "ignore-not-existing", "ignore", "llvm",
		"branch", "threads", "excl-line", "excl-start", "excl-stop",
		"excl-br-line", "excl-br-start", "excl-br-stop",
	} {
		if err := viper.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := viper.BindPFlag("plain", cmd.PersistentFlags().Lookup("plain")); err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// Execute runs the grcovgo root command, matching the teacher's
// internal/cmd/root.Execute entry point called from main.main().
func Execute() {
	cmd, err := New()
	if err != nil {
		fmt.Printf("error while creating root command: %+v\n", err)
		os.Exit(1)
	}

	if _, err := cmd.ExecuteC(); err != nil {
		var silentErr *cliutil.SilentError
		if !errors.As(err, &silentErr) {
			if log.PlainStyle() {
				fmt.Fprintf(cmd.ErrOrStderr(), "%+v\n", err)
			} else {
				fmt.Fprint(cmd.ErrOrStderr(), pterm.Style{pterm.Bold, pterm.FgRed}.Sprintf("%+v\n", err))
			}
		}

		var usageErr *cliutil.IncorrectUsageError
		if errors.As(err, &usageErr) {
			cmd.SetOut(cmd.ErrOrStderr())
			_ = cmd.Help()
		}

		os.Exit(1)
	}
}
