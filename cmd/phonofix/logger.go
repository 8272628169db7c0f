package main

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/phonofix/internal/config"
)

// newLogger builds the process logger. Records go to w as text; when
// logFile is set they are also appended to a size-rotated file. lv is set to
// level and may be changed later for hot reload. The returned function closes
// the log file.
func newLogger(w io.Writer, level config.LogLevel, logFile string, lv *slog.LevelVar) (*slog.Logger, func() error) {
	lv.Set(level.SlogLevel())

	closeFn := func() error { return nil }
	if logFile != "" {
		rot := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    64, // MB
			MaxAge:     14,
			MaxBackups: 3,
			Compress:   true,
		}
		w = io.MultiWriter(w, rot)
		closeFn = rot.Close
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), closeFn
}
