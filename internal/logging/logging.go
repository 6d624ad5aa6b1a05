// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs a console logger on stderr. verbosity is the number of
// -v flags passed on the command line: 0 = errors only, each additional
// level makes the output chattier up to trace.
func Setup(verbosity int) {
	var level zerolog.Level
	switch verbosity {
	case 0:
		level = zerolog.ErrorLevel
	case 1:
		level = zerolog.WarnLevel
	case 2:
		level = zerolog.InfoLevel
	case 3:
		level = zerolog.DebugLevel
	default:
		level = zerolog.TraceLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
