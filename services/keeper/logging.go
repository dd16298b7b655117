package keeper

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the keeper logger. When a log path is configured the
// output is mirrored into a size-rotated file alongside stdout.
func NewLogger(cfg Log) *slog.Logger {
	var out io.Writer = os.Stdout
	if strings.TrimSpace(cfg.Path) != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}
	return slog.New(slog.NewJSONHandler(out, nil))
}
