package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ChildLogFdEnv names the environment variable carrying the descriptor an
// init child writes its JSON log lines to.
const ChildLogFdEnv = "_OCIRT_LOGPIPE"

// ChildLogger returns a JSON logger writing to w at debug level.
// It is installed inside the init child, whose stderr may belong to the
// container program.
func ChildLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// SetupChild installs a ChildLogger on the descriptor named by
// ChildLogFdEnv. It returns false when no pipe was inherited.
func SetupChild() bool {
	fd, err := strconv.Atoi(os.Getenv(ChildLogFdEnv))
	if err != nil || fd < 3 {
		return false
	}
	SetDefault(ChildLogger(os.NewFile(uintptr(fd), "logpipe")))
	return true
}

// Forward copies JSON log records read from r into logger until r reaches
// EOF or ctx is done. Lines that are not JSON records are logged verbatim at
// warn level. The returned channel receives the read error (nil on EOF).
func Forward(ctx context.Context, r io.Reader, logger *slog.Logger) <-chan error {
	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			if ctx.Err() != nil {
				break
			}
			forwardLine(ctx, logger, scanner.Bytes())
		}
		done <- scanner.Err()
		close(done)
	}()
	return done
}

func forwardLine(ctx context.Context, logger *slog.Logger, line []byte) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return
	}

	var rec map[string]any
	if err := json.Unmarshal(line, &rec); err != nil {
		logger.WarnContext(ctx, string(line), slog.String("source", "init"))
		return
	}

	level := slog.LevelInfo
	if s, ok := rec[slog.LevelKey].(string); ok {
		_ = level.UnmarshalText([]byte(s))
	}
	msg, _ := rec[slog.MessageKey].(string)

	args := []any{slog.String("source", "init")}
	for k, v := range rec {
		switch k {
		case slog.TimeKey, slog.LevelKey, slog.MessageKey:
			continue
		}
		args = append(args, slog.Any(k, v))
	}
	logger.Log(ctx, level, msg, args...)
}
