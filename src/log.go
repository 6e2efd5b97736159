package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Logger construction, following the teacher's log.go
 *		texture but built on charmbracelet/log instead of a
 *		hand-rolled writer.
 *
 *------------------------------------------------------------------*/

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// NewLogger builds a *log.Logger at the level named by levelName
// ("debug", "info", "warn", "error"); an unrecognized name falls back
// to info, same as the teacher's own log level parsing.
func NewLogger(levelName string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
	})

	logger.SetLevel(parseLevel(levelName))

	return logger
}

func parseLevel(name string) log.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
