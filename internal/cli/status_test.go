package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// The tests below either pass forceNonInteractive to NewStatus or build a
// Status literal with isTerminal set, so none depends on whether the fd
// handed to isatty is a real terminal.

func TestNewStatusNonInteractiveSuppressesOutput(t *testing.T) {
	var buf bytes.Buffer
	s := NewStatus(&buf, 0, true, 3)
	if s.Interactive() {
		t.Fatal("expected forceNonInteractive to make Status non-interactive")
	}
	s.Update(0, "building")
	s.Refresh()
	if buf.Len() != 0 {
		t.Errorf("expected no output from a non-interactive Status, got %q", buf.String())
	}
}

func TestSetLineLockedPadsStaleCharacters(t *testing.T) {
	s := &Status{lines: make([]string, 1), isTerminal: true}
	s.setLineLocked(0, "building libfoo since 3s")
	s.setLineLocked(0, "idle")
	if len(s.lines[0]) < len("building libfoo since 3s") {
		t.Errorf("expected line to be padded to overwrite stale characters, got %q", s.lines[0])
	}
	if !strings.HasPrefix(s.lines[0], "idle") {
		t.Errorf("expected line to start with new content, got %q", s.lines[0])
	}
}

func TestRedrawLockedWritesOneLinePerSlotPlusCursorRewind(t *testing.T) {
	var buf bytes.Buffer
	s := &Status{out: &buf, lines: []string{"a", "b", "c"}, isTerminal: true}
	s.redrawLocked()
	out := buf.String()
	if strings.Count(out, "\n") != 3 {
		t.Errorf("expected 3 newlines (one per slot), got %q", out)
	}
	if !strings.Contains(out, "\033[3A") {
		t.Errorf("expected cursor-rewind escape for 3 lines, got %q", out)
	}
}

func TestUpdateThrottlesRedrawsWithinInterval(t *testing.T) {
	var buf bytes.Buffer
	s := &Status{out: &buf, lines: make([]string, 1), isTerminal: true, lastRedraw: time.Now()}
	s.Update(0, "first")
	if buf.Len() != 0 {
		t.Errorf("expected throttled Update to suppress output, got %q", buf.String())
	}
}

func TestDoneClearsRegionOnInteractiveStatusOnly(t *testing.T) {
	var buf bytes.Buffer
	s := &Status{out: &buf, lines: make([]string, 2), isTerminal: true}
	s.Done()
	if strings.Count(buf.String(), "\n") != 2 {
		t.Errorf("expected one blank line per slot, got %q", buf.String())
	}
}
