package utils

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// SetupZerolog configures the global logger. Unknown levels fall back to info.
func SetupZerolog(level string, format string) {
	SetupZerologTo(os.Stdout, level, format)
}

func SetupZerologTo(out io.Writer, level string, format string) {
	// https://github.com/rs/zerolog/issues/114
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if strings.ToLower(format) != LogFormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02T15:04:05.000-07:00", // Fake news, BUT we need milliseconds to debug stuff.
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	parsedLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		parsedLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsedLevel)
}

// Dbg logs errors we can live with.
func Dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("ignored error")
	}
}

func ErrLog(err error, what string) {
	if err != nil {
		log.Error().Err(err).Msg(what)
	}
}
