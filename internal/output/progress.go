// Package output handles all blindspot CLI output formatting.
package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vulnverified/blindspot/internal/engine"
)

const maxInFlightShown = 4

// Progress writes live scan progress updates to stderr.
type Progress struct {
	w       io.Writer
	verbose bool
	silent  bool
	mu      sync.Mutex
	start   time.Time
	last    int
}

// NewProgress creates a progress reporter.
func NewProgress(w io.Writer, verbose, silent bool) *Progress {
	return &Progress{
		w:       w,
		verbose: verbose,
		silent:  silent,
		start:   time.Now(),
	}
}

// Update prints a progress line for a status snapshot. Without verbose it
// only prints when the completed count advances.
func (p *Progress) Update(st engine.Status) {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.verbose && st.Completed == p.last {
		return
	}
	p.last = st.Completed

	line := fmt.Sprintf("[%d/%d] internal:%d external:%d failed:%d",
		st.Completed, st.Total, st.Internal, st.External, st.Failed)
	if p.verbose && len(st.InFlight) > 0 {
		shown := st.InFlight
		if len(shown) > maxInFlightShown {
			shown = shown[:maxInFlightShown]
		}
		line += " probing: " + strings.Join(shown, ", ")
		if len(st.InFlight) > maxInFlightShown {
			line += fmt.Sprintf(" (+%d more)", len(st.InFlight)-maxInFlightShown)
		}
	}
	fmt.Fprintln(p.w, line)
}

// Warn prints a warning to stderr.
func (p *Progress) Warn(msg string) {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "  ! %s\n", msg)
}

// Complete prints the final duration.
func (p *Progress) Complete() {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := time.Since(p.start)
	fmt.Fprintf(p.w, "\nCompleted in %.1fs\n", elapsed.Seconds())
}
