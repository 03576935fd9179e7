// Package diagnostics provides small formatting helpers used when the
// dispatch pipeline needs to surface a frame or a stack trace in a log
// line or error message.
package diagnostics

import (
	"fmt"
	"runtime"
	"strings"
)

// HexDump renders b as a space-separated hex string, truncating long
// frames so a single log line never carries an entire multi-kilobyte
// payload.
func HexDump(b []byte) string {
	const maxBytes = 256
	truncated := false
	if len(b) > maxBytes {
		b = b[:maxBytes]
		truncated = true
	}
	s := fmt.Sprintf("% x", b)
	if truncated {
		s += " ...(truncated)"
	}
	return s
}

// TrimFrames captures the current goroutine's stack and drops every line
// that mentions pkg/dispatch or the Go runtime's panic machinery
// (runtime/panic.go, runtime.gopanic), so the pipeline's own frames and
// recover() do not crowd the logged trace. The goroutine header line and
// all other frames, including TrimFrames' own, are kept.
func TrimFrames() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	lines := strings.Split(string(buf[:n]), "\n")

	var kept []string
	for i, line := range lines {
		if i == 0 {
			kept = append(kept, line)
			continue
		}
		if strings.Contains(line, "pkg/dispatch") || strings.Contains(line, "runtime/panic.go") || strings.Contains(line, "runtime.gopanic") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
