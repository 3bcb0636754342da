package log

import (
	"github.com/pterm/pterm"
)

const (
	DiscoverInProgressMsg        string = "Discovering coverage inputs..."
	DiscoverInProgressSuccessMsg string = "Discovering coverage inputs... Done."
	DiscoverInProgressErrorMsg   string = "Discovering coverage inputs... Error."

	IngestInProgressMsg        string = "Parsing and merging coverage data..."
	IngestInProgressSuccessMsg string = "Parsing and merging coverage data... Done."
	IngestInProgressErrorMsg   string = "Parsing and merging coverage data... Error."

	EmitInProgressMsg        string = "Writing coverage report..."
	EmitInProgressSuccessMsg string = "Writing coverage report... Done."
	EmitInProgressErrorMsg   string = "Writing coverage report... Error."
)

func GetPtermErrorStyle() *pterm.Style {
	return &pterm.Style{pterm.FgRed, pterm.Bold}
}

func GetPtermSuccessStyle() *pterm.Style {
	return &pterm.Style{pterm.FgGreen}
}

// currentProgressSpinner is checked by log() to avoid garbling spinner
// output with interleaved log lines.
var currentProgressSpinner *pterm.SpinnerPrinter

func CreateCurrentProgressSpinner(style *pterm.Style, msg string) {
	if PlainStyle() {
		Info(msg)
		return
	}

	currentProgressSpinner, _ = pterm.DefaultSpinner.Start(msg)
	if style != nil {
		currentProgressSpinner.Style = style
		currentProgressSpinner.MessageStyle = style
	}
}

func UpdateCurrentProgressSpinner(msg string) {
	if msg != "" && currentProgressSpinner != nil {
		currentProgressSpinner.UpdateText(msg)
	}
}

func StopCurrentProgressSpinner(style *pterm.Style, msg string) {
	if currentProgressSpinner == nil || PlainStyle() {
		Info(msg)
		return
	}

	if style != nil {
		currentProgressSpinner.Style = style
		currentProgressSpinner.MessageStyle = style
	}

	if msg != "" {
		currentProgressSpinner.UpdateText(msg)
	}

	currentProgressSpinner.RemoveWhenDone = false
	_ = currentProgressSpinner.Stop()
	currentProgressSpinner = nil
}
