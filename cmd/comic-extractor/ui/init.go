// Package ui provides terminal output helpers for the comic-extractor CLI.
package ui

import (
	"github.com/fatih/color"
)

var (
	verboseFlag bool

	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.Bold, color.Underline)
)

// InitUI sets color and verbosity for the process.
func InitUI(noColor, verbose bool) {
	verboseFlag = verbose
	if noColor {
		color.NoColor = true
	}
}

// Verbose reports whether verbose output was requested.
func Verbose() bool {
	return verboseFlag
}
