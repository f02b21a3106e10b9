package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Printf adapts a slog.Logger to the printf-style logger interface used by
// gnet and similar libraries.
type Printf struct {
	l *slog.Logger
}

// NewPrintf returns a Printf writing to l, or to slog.Default() when l is nil.
func NewPrintf(l *slog.Logger) *Printf {
	return &Printf{l: OrDefault(l)}
}

func (p *Printf) log(level slog.Level, format string, args []any) {
	if !p.l.Enabled(context.Background(), level) {
		return
	}
	p.l.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (p *Printf) Debugf(format string, args ...any) { p.log(slog.LevelDebug, format, args) }
func (p *Printf) Infof(format string, args ...any)  { p.log(slog.LevelInfo, format, args) }
func (p *Printf) Warnf(format string, args ...any)  { p.log(slog.LevelWarn, format, args) }
func (p *Printf) Errorf(format string, args ...any) { p.log(slog.LevelError, format, args) }

// Fatalf logs at error level and exits the process.
func (p *Printf) Fatalf(format string, args ...any) {
	p.log(slog.LevelError, format, args)
	os.Exit(1)
}
