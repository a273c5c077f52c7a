package cmd

import (
	"os"
	"strconv"

	"github.com/mattn/go-runewidth"
	"golang.org/x/sys/unix"
)

const defaultTermWidth = 80

// terminalWidth returns the width of stdout, $COLUMNS, or 80.
func terminalWidth() int {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err == nil && ws.Col > 0 {
		return int(ws.Col)
	}
	if w, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && w > 0 {
		return w
	}
	return defaultTermWidth
}

// truncate shortens s to at most width terminal cells, marking the cut
// with "...".
func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
