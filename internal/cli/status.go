// Package cli implements the terminal status display a build driver uses
// to show per-worker progress: one line per concurrency slot, redrawn in
// place via cursor-up escapes. Grounded on internal/batch/batch.go's
// scheduler.refreshStatus/updateStatus (line-buffer-plus-cursor-rewind
// idiom), with the teacher's raw unix.IoctlGetTermios TTY check replaced
// by github.com/mattn/go-isatty, already a teacher go.mod dependency used
// the same way elsewhere in the corpus.
package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// minRedrawInterval throttles redraws exactly as batch.go's updateStatus
// does: printing on every single status change slows wall-clock time down
// measurably on a fast build with many short-lived actions.
const minRedrawInterval = 100 * time.Millisecond

// Status is a terminal-attached, line-per-slot progress display. Slot 0 is
// conventionally the aggregate summary line; slots 1..N-1 are one per
// concurrency slot, matching batch.go's "index 0 is the overall count,
// the rest are in-flight package names" convention.
type Status struct {
	out        io.Writer
	isTerminal bool

	mu         sync.Mutex
	lines      []string
	lastRedraw time.Time
}

// NewStatus constructs a Status writing to out. isTerminal is computed via
// isatty.IsTerminal/IsCygwinTerminal against the underlying file descriptor
// when out is an *os.File-like value; callers that already know their
// target isn't interactive (e.g. output piped to a log file) can pass
// forceNonInteractive to suppress escape sequences entirely.
func NewStatus(out io.Writer, fd uintptr, forceNonInteractive bool, slots int) *Status {
	term := !forceNonInteractive && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
	return &Status{
		out:        out,
		isTerminal: term,
		lines:      make([]string, slots),
	}
}

// Interactive reports whether this Status will actually redraw in place;
// non-interactive callers (piped output, CI logs) should fall back to
// plain sequential logging instead of calling Update/Refresh.
func (s *Status) Interactive() bool {
	return s.isTerminal
}

// Update sets the line for slot idx and redraws, unless a redraw happened
// within the last minRedrawInterval.
func (s *Status) Update(idx int, line string) {
	if !s.isTerminal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLineLocked(idx, line)
	if time.Since(s.lastRedraw) < minRedrawInterval {
		return
	}
	s.redrawLocked()
}

// Refresh force-redraws every line regardless of the throttle, intended
// for periodic ticks (e.g. once a second) so long-running slots' elapsed
// time fields keep advancing even without a status change.
func (s *Status) Refresh() {
	if !s.isTerminal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redrawLocked()
}

func (s *Status) setLineLocked(idx int, line string) {
	if diff := len(s.lines[idx]) - len(line); diff > 0 {
		line += strings.Repeat(" ", diff) // overwrite stale characters with whitespace
	}
	s.lines[idx] = line
}

func (s *Status) redrawLocked() {
	s.lastRedraw = time.Now()
	for _, line := range s.lines {
		fmt.Fprintln(s.out, line)
	}
	fmt.Fprintf(s.out, "\033[%dA", len(s.lines)) // restore cursor position
}

// Done clears the redraw region, leaving the cursor below the last line,
// for callers that want to print a final summary below the status block
// rather than have it overwritten by the next redraw.
func (s *Status) Done() {
	if !s.isTerminal {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for range s.lines {
		fmt.Fprintln(s.out)
	}
}
