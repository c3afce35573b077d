package color

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	promptColor   = color.New(color.FgCyan, color.Bold)
	selfColor     = color.New(color.FgGreen, color.Bold)
	agentColor    = color.New(color.FgHiYellow, color.Bold)
	customerColor = color.New(color.FgHiBlue, color.Bold)
	systemColor   = color.New(color.FgHiBlack)
	warningColor  = color.New(color.FgYellow, color.Bold)
	errorColor    = color.New(color.FgRed, color.Bold)
)

func ColorPrompt(s string) string {
	return promptColor.Sprint(s)
}

func ColorSelf(s string) string {
	return selfColor.Sprint(s)
}

// ColorSender picks the color for a message author by sender type.
func ColorSender(senderType, s string) string {
	switch senderType {
	case "agent":
		return agentColor.Sprint(s)
	case "customer":
		return customerColor.Sprint(s)
	}
	return s
}

func ColorSystem(s string) string {
	return systemColor.Sprint(s)
}

func ColorWarning(s string) string {
	return warningColor.Sprint(s)
}

func ColorError(s string) string {
	return errorColor.Sprint(s)
}

// DisableIfNotTTY turns colors off when f is redirected.
func DisableIfNotTTY(f *os.File) {
	fd := f.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		color.NoColor = true
	}
}
