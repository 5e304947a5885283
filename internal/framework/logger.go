package framework

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// SetupLogger returns a logger writing to stdout and <stateDir>/status.log.
// The returned closer closes the log file.
func SetupLogger(stateDir, moduleID, level string) (*log.Logger, io.Closer, error) {
	logPath := filepath.Join(stateDir, "status.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	mw := io.MultiWriter(os.Stdout, f)
	return NewLogger(mw, moduleID, level), f, nil
}

// NewLogger builds the module logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, moduleID, level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		Prefix:          moduleID,
		Level:           lvl,
		ReportTimestamp: true,
	})
}
