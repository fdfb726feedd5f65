package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"gravlauncher/internal/input"
	"gravlauncher/internal/orchestrator"
)

// View implements tea.Model.
func (m *App) View() string {
	if !m.ready {
		return "Initializing..."
	}

	l := m.computeLayout()
	sections := []string{m.renderHeader()}
	if m.nav.Fullscreen {
		sections = append(sections, m.renderFullscreen(l.fullscreenInner))
	} else {
		if l.showProgress {
			sections = append(sections, m.renderProgress())
		}
		sections = append(sections,
			m.renderPane(input.LauncherPane, l.launcherInner),
			m.renderPane(input.GamePane, l.gameInner),
		)
	}
	sections = append(sections, m.renderFooter())
	frame := lipgloss.JoinVertical(lipgloss.Left, sections...)

	if m.confirm == nil && m.copiedText == "" {
		return frame
	}
	canvas := NewCanvas(m.width, m.height)
	canvas.DrawStringAt(0, 0, frame)
	if m.confirm != nil {
		canvas.centerOverlay(styleConfirmOverlay.Render(m.confirm.View()), 1, 1)
	}
	if m.copiedText != "" {
		msg := fitLine(fmt.Sprintf("Copied %q", m.copiedText), min(m.width-6, 60))
		canvas.bottomRightOverlay(styleToast.Render(msg), 1)
	}
	return canvas.Render()
}

func (m *App) renderHeader() string {
	title := styleAppHeader.Render("GRAV Launcher")
	info := fmt.Sprintf(" %s  channel: %s ", m.version, m.channel)
	state := " " + m.state.String()
	if m.busy() {
		state = " " + m.spinner.View() + state
	}
	if m.gamePID != 0 {
		state += fmt.Sprintf(" (pid %d)", m.gamePID)
	}
	line := title + styleHeaderInfo.Render(info) + state
	return fitLine(line, m.width)
}

func (m *App) busy() bool {
	switch m.state {
	case orchestrator.CheckingUpdates, orchestrator.UpdatingLauncher, orchestrator.UpdatingGame,
		orchestrator.Launching, orchestrator.ShuttingDown:
		return true
	default:
		return false
	}
}

func (m *App) renderProgress() string {
	p := m.download
	label := fmt.Sprintf("%s %s", p.Descriptor.Component, p.Descriptor.Version)
	size := humanize.Bytes(uint64(max(p.BytesReceived, 0)))
	if p.TotalBytes > 0 {
		size += " / " + humanize.Bytes(uint64(p.TotalBytes))
	}
	if p.Attempt > 1 {
		size += fmt.Sprintf(" (attempt %d)", p.Attempt)
	}
	line := " " + m.progress.ViewAs(p.Fraction()) + " " + label + "  " + styleMuted.Render(size)
	return fitLine(line, m.width) + "\n"
}

func paneTitle(p input.Pane) string {
	if p == input.GamePane {
		return "GRAV output"
	}
	return "Launcher"
}

// renderPane draws a bordered pane. The focused pane uses the navigation
// offset; the other pane shows its newest lines.
func (m *App) renderPane(p input.Pane, inner int) string {
	width := max(m.width-2, minViewportWidth)
	lines := m.styledLines(p)

	offset := max(len(lines)-inner, 0)
	style := stylePane
	if p == m.nav.Focus {
		offset = m.nav.Offset
		style = stylePaneFocused
	}

	title := paneTitle(p)
	if p == m.nav.Focus && !m.nav.Follow {
		title += styleMuted.Render(fmt.Sprintf("  %d/%d", min(offset+inner, len(lines)), len(lines)))
	}

	rows := make([]string, 0, inner+1)
	rows = append(rows, fitLine(stylePaneTitle.Render(title), width))
	for i := 0; i < inner; i++ {
		idx := offset + i
		row := ""
		if idx >= 0 && idx < len(lines) {
			row = lines[idx]
		}
		rows = append(rows, fitLine(row, width))
	}
	return style.Width(width).Render(strings.Join(rows, "\n"))
}

func (m *App) renderFullscreen(inner int) string {
	width := max(m.width-2, minViewportWidth)
	lines := m.styledLines(m.nav.Focus)
	plain := m.plainLines(m.nav.Focus)
	for i := range lines {
		if i == m.nav.Selected && !m.nav.Follow {
			lines[i] = styleSelected.Render(fitLine(plain[i], width))
			continue
		}
		lines[i] = fitLine(lines[i], width)
	}

	m.viewport.Width = width
	m.viewport.Height = inner
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.SetYOffset(m.nav.Offset)

	mode := "follow"
	if !m.nav.Follow {
		mode = fmt.Sprintf("line %d/%d", m.nav.Selected+1, len(lines))
	}
	title := stylePaneTitle.Render(paneTitle(m.nav.Focus)) + styleMuted.Render("  "+mode)
	body := fitLine(title, width) + "\n" + m.viewport.View()
	return stylePaneFocused.Width(width).Render(body)
}
