package logger

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/thushan/casq/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting helpers.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme.
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

// NewTesting returns a styled logger that discards everything; tests hand
// it to connections and pools that insist on having one.
func NewTesting() *StyledLogger {
	return NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.Default())
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Counts}.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithHost(msg string, host string, args ...any) {
	sl.logger.Info(sl.styledHost(msg, host), args...)
}

func (sl *StyledLogger) WarnWithHost(msg string, host string, args ...any) {
	sl.logger.Warn(sl.styledHost(msg, host), args...)
}

func (sl *StyledLogger) ErrorWithHost(msg string, host string, args ...any) {
	sl.logger.Error(sl.styledHost(msg, host), args...)
}

func (sl *StyledLogger) DebugWithHost(msg string, host string, args ...any) {
	sl.logger.Debug(sl.styledHost(msg, host), args...)
}

// InfoConnUp reports a connection becoming available for work.
func (sl *StyledLogger) InfoConnUp(msg string, host string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.ConnUp}.Sprint(host))
	sl.logger.Info(styledMsg, args...)
}

// InfoConnDown reports a connection leaving service.
func (sl *StyledLogger) InfoConnDown(msg string, host string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.ConnDown}.Sprint(host))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) styledHost(msg, host string) string {
	return fmt.Sprintf("%s %s", msg, sl.theme.Host.Sprint(host))
}
