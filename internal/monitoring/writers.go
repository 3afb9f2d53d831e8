package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// OpenWriter resolves a log target: "" or "none" disables the stream,
// "stderr" and "stdout" select the process streams and anything else is a
// file opened for appending. The returned close function is never nil.
func OpenWriter(target string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "none", "off":
		return nil, nop, nil
	case "stderr":
		return os.Stderr, nop, nil
	case "stdout":
		return os.Stdout, nop, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nop, fmt.Errorf("opening log file %s: %w", target, err)
	}
	return f, f.Close, nil
}

// OpenWriters resolves the three stream targets. Targets naming the same
// file share one handle.
func OpenWriters(ops, diag, trace string) (LogWriters, func() error, error) {
	var closers []func() error
	opened := make(map[string]io.Writer)
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	open := func(target string) (io.Writer, error) {
		if w, ok := opened[target]; ok {
			return w, nil
		}
		w, c, err := OpenWriter(target)
		if err != nil {
			return nil, err
		}
		opened[target] = w
		closers = append(closers, c)
		return w, nil
	}

	var lw LogWriters
	var err error
	if lw.Ops, err = open(ops); err != nil {
		closeAll()
		return LogWriters{}, func() error { return nil }, err
	}
	if lw.Diag, err = open(diag); err != nil {
		closeAll()
		return LogWriters{}, func() error { return nil }, err
	}
	if lw.Trace, err = open(trace); err != nil {
		closeAll()
		return LogWriters{}, func() error { return nil }, err
	}
	return lw, closeAll, nil
}
