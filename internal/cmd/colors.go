package cmd

import (
	"os"
	"runtime"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// colorMode is set by --color: auto, always or never.
var colorMode = "auto"

type palette struct {
	title  lipgloss.Style
	source lipgloss.Style
	id     lipgloss.Style
	dim    lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
}

var styles = newPalette(lipgloss.NewRenderer(os.Stdout))

func newPalette(r *lipgloss.Renderer) palette {
	return palette{
		title:  r.NewStyle().Bold(true),
		source: r.NewStyle().Bold(true).Foreground(lipgloss.Color("62")),
		id:     r.NewStyle().Foreground(lipgloss.Color("214")),
		dim:    r.NewStyle().Foreground(lipgloss.Color("241")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("34")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("178")),
		err:    r.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// applyColorMode rebuilds the styles for the current --color value.
func applyColorMode() {
	r := lipgloss.NewRenderer(os.Stdout)
	switch colorMode {
	case "always":
		r.SetColorProfile(termenv.ANSI256)
	case "never":
		r.SetColorProfile(termenv.Ascii)
	default:
		if shouldDisableColors() {
			r.SetColorProfile(termenv.Ascii)
		}
	}
	styles = newPalette(r)
}

func shouldDisableColors() bool {
	// Check NO_COLOR environment variable (https://no-color.org/)
	if os.Getenv("NO_COLOR") != "" {
		return true
	}

	if os.Getenv("TERM") == "dumb" {
		return true
	}

	return runtime.GOOS == "windows" && os.Getenv("WT_SESSION") == ""
}
