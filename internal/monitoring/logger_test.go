package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestStreams_RoutesToWriters(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	l := New("scan", LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})

	l.Opsf("warning: sync degraded at %03d", 40)
	l.Diagf("pose %s started", "low")
	l.Tracef("poll state=%s", "moving")

	if !strings.Contains(ops.String(), "[scan] ") || !strings.Contains(ops.String(), "warning: sync degraded at 040") {
		t.Errorf("unexpected ops output %q", ops.String())
	}
	if !strings.Contains(diag.String(), "pose low started") {
		t.Errorf("unexpected diag output %q", diag.String())
	}
	if !strings.Contains(trace.String(), "poll state=moving") {
		t.Errorf("unexpected trace output %q", trace.String())
	}
}

func TestStreams_NilWritersAreSilent(t *testing.T) {
	var ops bytes.Buffer
	l := New("x", LogWriters{Ops: &ops})

	// Should not panic when diag and trace are disabled.
	l.Diagf("dropped %d", 1)
	l.Tracef("dropped %d", 2)

	if ops.Len() != 0 {
		t.Errorf("ops stream should be empty, got %q", ops.String())
	}
}

func TestStreams_WithSharesWriters(t *testing.T) {
	var ops bytes.Buffer
	root := New("root", LogWriters{Ops: &ops})
	child := root.With("turntable")

	child.Opsf("error: unreachable")

	if !strings.Contains(ops.String(), "[turntable] error: unreachable") {
		t.Errorf("child logger should write with its own prefix, got %q", ops.String())
	}
}

func TestStreams_NilReceiver(t *testing.T) {
	var s *Streams
	// Should not panic.
	s.Opsf("nothing")
	s.Diagf("nothing")
	s.Tracef("nothing")
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) != Discard {
		t.Error("OrDiscard(nil) should return Discard")
	}
	l := New("", LogWriters{})
	if OrDiscard(l) != Logger(l) {
		t.Error("OrDiscard should return a non-nil logger unchanged")
	}
	Discard.Opsf("no-op %d", 1)
}
