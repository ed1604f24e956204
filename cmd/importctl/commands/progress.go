package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/JonMunkholm/bulkimport/internal/importer"
)

// progressLine redraws a single terminal line with the job state.
type progressLine struct {
	mu    sync.Mutex
	w     io.Writer
	drawn bool
}

func newProgressLine(w io.Writer) *progressLine {
	return &progressLine{w: w}
}

func (p *progressLine) update(j importer.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\r\033[K%s", formatJob(j))
	p.drawn = true
}

func (p *progressLine) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
}

func formatJob(j importer.Job) string {
	line := fmt.Sprintf("%-10s %3d%%", j.Status, j.Percent())
	if j.Total != nil {
		line += fmt.Sprintf("  %d/%d rows", j.Processed, *j.Total)
	} else if j.Processed > 0 {
		line += fmt.Sprintf("  %d rows", j.Processed)
	}
	if j.Errors > 0 {
		line += fmt.Sprintf("  %d errors", j.Errors)
	}
	if c := j.Current; c != nil && j.Status.Active() {
		switch {
		case c.SKU != "":
			line += "  at " + c.SKU
		case c.Line > 0:
			line += fmt.Sprintf("  at line %d", c.Line)
		}
	}
	return line
}
