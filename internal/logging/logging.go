// Package logging builds the relay's structured logger: JSON lines through
// log/slog, with error values rendered together with their stack trace.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mdobak/go-xerrors"
)

// maxFrames caps how much of a stack trace goes into one log line.
const maxFrames = 16

// New returns a JSON logger writing to w. Unknown level names log at info.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: expandError,
	}))
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WrapError prefixes err with msg and records the caller's stack. errors.Is
// and errors.As still see err.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return xerrors.WithStackTrace(xerrors.Join(msg, err), 1)
}

// expandError turns error attributes into {"message", "stack"} groups. The
// stack is only present when something in the chain captured one.
func expandError(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	err, ok := a.Value.Any().(error)
	if !ok {
		return a
	}

	attrs := []slog.Attr{slog.String("message", err.Error())}
	if stack := stackOf(err); len(stack) > 0 {
		attrs = append(attrs, slog.Any("stack", stack))
	}
	a.Value = slog.GroupValue(attrs...)
	return a
}

// stackOf renders frames as "dir/file.go:line func", skipping the runtime.
func stackOf(err error) []string {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}

	var out []string
	for _, f := range trace.Frames() {
		if f.Function == "" || strings.HasPrefix(f.Function, "runtime.") {
			continue
		}
		file := filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File))
		out = append(out, fmt.Sprintf("%s:%d %n", file, f.Line, f))
		if len(out) == maxFrames {
			break
		}
	}
	return out
}
