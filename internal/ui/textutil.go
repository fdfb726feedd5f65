package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// fitLine truncates or pads line to exactly width cells.
func fitLine(line string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(line) > width {
		return ansi.Truncate(line, width, "…")
	}
	return padLineToWidth(line, width)
}

// padLineToWidth pads a single line with spaces so it reaches width.
func padLineToWidth(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if width <= 0 || lineWidth >= width {
		return line
	}
	return line + strings.Repeat(" ", width-lineWidth)
}

func maxLineWidth(lines []string) int {
	widest := 0
	for _, line := range lines {
		if w := lipgloss.Width(line); w > widest {
			widest = w
		}
	}
	return widest
}
