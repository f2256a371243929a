package transcode

import (
	"log/slog"
	"strings"
	"sync"
)

// parseLogLevel splits an ffmpeg "-loglevel level+..." line into its level
// and message. Lines look like "[error] msg" or
// "[hls @ 0x55d0] [warning] msg"; the component prefix is kept.
func parseLogLevel(line string) (slog.Level, string) {
	if len(line) < 3 || line[0] != '[' {
		return slog.LevelInfo, line
	}
	end := strings.Index(line, "] ")
	if end == -1 {
		return slog.LevelInfo, line
	}
	if lvl, ok := ffmpegLevel(line[1:end]); ok {
		return lvl, line[end+2:]
	}

	component, rest := line[:end+2], line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if next := strings.Index(rest, "] "); next != -1 {
			if lvl, ok := ffmpegLevel(rest[1:next]); ok {
				return lvl, component + rest[next+2:]
			}
		}
	}
	return slog.LevelInfo, line
}

func ffmpegLevel(s string) (slog.Level, bool) {
	switch s {
	case "panic", "fatal", "error":
		return slog.LevelError, true
	case "warning":
		return slog.LevelWarn, true
	case "info", "quiet":
		return slog.LevelInfo, true
	case "verbose", "debug", "trace":
		return slog.LevelDebug, true
	}
	return slog.LevelInfo, false
}

// tail keeps the last n lines written to it.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
