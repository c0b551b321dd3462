package app

import (
	"os"
	"strings"
)

// Buffer is one open file. The shell is a viewer: text is read once and
// synced to the language server, not edited.
type Buffer struct {
	Path     string
	Language string // empty when no configured language matched
	Lines    []string
	Top      int // first visible line

	// opened records whether didOpen reached the server; cleared when
	// the server restarts so the document can be re-announced.
	opened bool
}

// loadBuffer reads a file into a Buffer. A missing file yields an empty
// buffer so the path can still be displayed.
func loadBuffer(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Buffer{Path: path, Lines: []string{""}}, nil
		}
		return nil, err
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		lines = []string{""}
	}
	return &Buffer{Path: path, Lines: lines}, nil
}

// Text returns the buffer content as a single string.
func (b *Buffer) Text() string {
	return strings.Join(b.Lines, "\n")
}

// scroll moves the viewport by delta lines, clamped to the buffer.
func (b *Buffer) scroll(delta, height int) {
	b.Top += delta
	max := len(b.Lines) - height
	if max < 0 {
		max = 0
	}
	if b.Top > max {
		b.Top = max
	}
	if b.Top < 0 {
		b.Top = 0
	}
}
