// Package log provides the styled console output used by the grcovgo CLI.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var disableColor bool

// Output is the primary outlet for the log to write to.
var Output io.Writer

func init() {
	Output = os.Stderr
	// Disable color if stderr is not a terminal. We don't use the style
	// flag here because that would disable color for all pterm methods,
	// but stdout (where a report may be written) could still be a terminal.
	disableColor = !term.IsTerminal(int(os.Stderr.Fd()))
}

func log(style pterm.Style, icon string, a ...any) {
	s := fmt.Sprint(a...)
	if len(s) == 0 || s[len(s)-1] != '\n' {
		s += "\n"
	}

	switch {
	case PlainStyle():
		pterm.DisableColor()
	case viper.GetString("style") == "color":
		s = style.Sprint(s)
	default:
		s = icon + s
		s = style.Sprint(s)
	}

	if disableColor {
		s = pterm.RemoveColorFromString(s)
	}

	// If a progress spinner is currently running, stop it, print the log
	// line, and restart it, so the spinner doesn't get garbled by output
	// landing in the middle of its render.
	if currentProgressSpinner != nil {
		text := currentProgressSpinner.Text
		style := currentProgressSpinner.Style
		_ = currentProgressSpinner.Stop()

		_, _ = fmt.Fprint(Output, s)

		currentProgressSpinner, _ = pterm.DefaultSpinner.WithStyle(style).Start(text)
		return
	}

	_, _ = fmt.Fprint(Output, s)
}

// Successf highlights a message as successful.
func Successf(format string, a ...any) {
	Success(fmt.Sprintf(format, a...))
}

func Success(a ...any) {
	log(pterm.Style{pterm.FgGreen}, "✅ ", a...)
}

// Warnf highlights a message as a warning.
func Warnf(format string, a ...any) {
	Warn(fmt.Sprintf(format, a...))
}

func Warn(a ...any) {
	log(pterm.Style{pterm.Bold, pterm.FgYellow}, "⚠️ ", a...)
}

// Notef highlights a message as a note.
func Notef(format string, a ...any) {
	Note(fmt.Sprintf(format, a...))
}

func Note(a ...any) {
	log(pterm.Style{pterm.FgLightYellow}, "", a...)
}

// Errorf highlights and formats a message as an error and, when viper's
// "verbose" setting is true, also prints the error with its stack trace.
func Errorf(err error, format string, a ...any) {
	Error(err, fmt.Sprintf(format, a...))
}

// Error highlights a message as an error and, when viper's "verbose"
// setting is true, also prints the error with its stack trace. If no
// message is provided the error itself is printed.
func Error(err error, a ...any) {
	if len(a) == 0 {
		a = []any{err.Error()}
	}
	ErrorMsg(a...)

	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	var st stackTracer
	if viper.GetBool("verbose") && errors.As(err, &st) {
		s := fmt.Sprintf("%+v", st)
		s = strings.TrimPrefix(s, "\n")
		Info(s)
	}
}

// ErrorMsgf highlights and formats a message as an error.
func ErrorMsgf(format string, a ...any) {
	ErrorMsg(fmt.Sprintf(format, a...))
}

// ErrorMsg highlights a message as an error.
func ErrorMsg(a ...any) {
	log(pterm.Style{pterm.Bold, pterm.FgRed}, "❌ ", a...)
}

// Infof outputs a regular user message without any highlighting.
func Infof(format string, a ...any) {
	Info(fmt.Sprintf(format, a...))
}

func Info(a ...any) {
	log(pterm.Style{pterm.Fuzzy}, "", a...)
}

// Debugf outputs additional information when viper's "verbose" setting is
// true.
func Debugf(format string, a ...any) {
	Debug(fmt.Sprintf(format, a...))
}

func Debug(a ...any) {
	if viper.GetBool("verbose") {
		log(pterm.Style{pterm.Fuzzy}, "🔍 ", a...)
	}
}

// Printf writes without any colors.
func Printf(format string, a ...any) {
	Print(fmt.Sprintf(format, a...))
}

func Print(a ...any) {
	log(pterm.Style{pterm.FgDefault}, "", a...)
}

func PlainStyle() bool {
	return viper.GetString("style") == "plain" || viper.GetBool("plain")
}
