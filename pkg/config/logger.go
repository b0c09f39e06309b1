package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", s)
	}
	return l, nil
}

// NewLogger 创建写入 stderr 的 slog.Logger，format 为 text 或 json
func NewLogger(level, format string) (*slog.Logger, error) {
	return newLogger(os.Stderr, level, format)
}

// Logger 按 log 配置创建 slog.Logger
func (c *Config) Logger() (*slog.Logger, error) {
	return NewLogger(c.Log.Level, c.Log.Format)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	l, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: l}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", format)
	}
}
