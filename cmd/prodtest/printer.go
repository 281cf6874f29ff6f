package main

import (
	"fmt"
	"io"
	"strings"

	"production-test/internal/session"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
	ansiDim   = "\033[2m"
)

// printer writes operator lines, one per progress event.
type printer struct {
	w      io.Writer
	colour bool
}

func newPrinter(w io.Writer, colour bool) *printer {
	return &printer{w: w, colour: colour}
}

func (p *printer) event(e session.Event) {
	switch e.Kind {
	case session.EventProgress:
		p.line(e.Text)
	case session.EventFinished:
		res := e.Result
		if res == nil {
			return
		}
		if res.ExportPath != "" {
			p.paint(ansiDim, "Saved "+res.ExportPath)
		}
		p.paint(ansiDim, fmt.Sprintf("Session %s: %s (%d samples)", res.SessionID, res.Outcome, res.Readings.Len()))
	}
}

func (p *printer) line(text string) {
	switch {
	case strings.HasPrefix(text, "ERROR"):
		p.paint(ansiRed, text)
	case text == "Test completed successfully!" || text == "Connection established!":
		p.paint(ansiGreen, text)
	default:
		fmt.Fprintln(p.w, text)
	}
}

func (p *printer) paint(code, text string) {
	if !p.colour {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintln(p.w, code+text+ansiReset)
}
