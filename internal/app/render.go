package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/uniseg"
	"go.lsp.dev/uri"
)

var (
	styleText   = tcell.StyleDefault
	styleStatus = tcell.StyleDefault.Reverse(true)
)

// render paints the current buffer and the status line.
func (a *App) render() {
	a.screen.Clear()
	width, height := a.screen.Size()
	if height < 2 {
		a.screen.Show()
		return
	}

	buf := a.currentBuffer()
	textRows := height - 1

	for row := 0; row < textRows; row++ {
		idx := buf.Top + row
		if idx >= len(buf.Lines) {
			break
		}
		drawText(a.screen, 0, row, width, styleText, expandTabs(buf.Lines[idx]))
	}

	line := a.statusLine(buf)
	drawText(a.screen, 0, height-1, width, styleStatus, padRight(line, width))

	a.screen.Show()
}

// statusLine summarizes the buffer, its server and the last message.
func (a *App) statusLine(buf *Buffer) string {
	var b strings.Builder

	fmt.Fprintf(&b, " %s", filepath.Base(buf.Path))
	if len(a.buffers) > 1 {
		fmt.Fprintf(&b, " [%d/%d]", a.current+1, len(a.buffers))
	}

	if buf.Language != "" {
		fmt.Fprintf(&b, "  %s", buf.Language)
		b.WriteString("  lsp:")
		b.WriteString(a.serverStateLabel(buf.Language))
		if n := len(a.diagnostics[uri.File(buf.Path)]); n > 0 {
			fmt.Fprintf(&b, "  diagnostics:%d", n)
		}
	}

	if a.status != "" {
		b.WriteString("  | ")
		b.WriteString(a.status)
	}
	return b.String()
}

// serverStateLabel folds supervisor policy state into the displayed
// server status.
func (a *App) serverStateLabel(language string) string {
	if a.manager.IsInCooldown(language) {
		return "cooldown"
	}
	if a.manager.HasPendingRestart(language) {
		return "restarting"
	}
	if status, ok := a.serverStatus[language]; ok {
		return status.String()
	}
	return "off"
}

// drawText writes a string at (x, y), clipped to maxX. Grapheme
// clusters stay intact so wide characters render correctly.
func drawText(s tcell.Screen, x, y, maxX int, style tcell.Style, text string) int {
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		if x >= maxX {
			break
		}
		w := uniseg.StringWidth(g.Str())
		if w == 0 {
			continue
		}
		runes := g.Runes()
		s.SetContent(x, y, runes[0], runes[1:], style)
		x += w
	}
	return x
}

// expandTabs replaces tabs for display; the buffer text sent to servers
// is untouched.
func expandTabs(line string) string {
	return strings.ReplaceAll(line, "\t", "    ")
}

// padRight extends s with spaces to the given display width.
func padRight(s string, width int) string {
	w := uniseg.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
