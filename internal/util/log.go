// Package util provides logging, traffic statistics and progress display
// shared by both binaries.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Logger writes leveled messages through pterm's default logger, each one
// prefixed with a scope such as a session id. The zero value has no prefix.
type Logger struct {
	prefix string
}

// Scoped returns a logger whose messages start with "[scope] ".
func Scoped(scope string) Logger {
	return Logger{prefix: "[" + scope + "] "}
}

func (l Logger) msg(format string, args []any) string {
	return l.prefix + fmt.Sprintf(format, args...)
}

func (l Logger) Debug(format string, args ...any) {
	pterm.DefaultLogger.Debug(l.msg(format, args))
}

func (l Logger) Info(format string, args ...any) {
	pterm.DefaultLogger.Info(l.msg(format, args))
}

func (l Logger) Warn(format string, args ...any) {
	pterm.DefaultLogger.Warn(l.msg(format, args))
}

// Success prints with pterm's success prefix so the final line of a transfer
// stands out from the log stream.
func (l Logger) Success(format string, args ...any) {
	pterm.Success.Println(l.msg(format, args))
}

var root Logger

// Unscoped shorthands.

func LogDebug(format string, args ...any)   { root.Debug(format, args...) }
func LogInfo(format string, args ...any)    { root.Info(format, args...) }
func LogSuccess(format string, args ...any) { root.Success(format, args...) }
func LogWarning(format string, args ...any) { root.Warn(format, args...) }

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}
