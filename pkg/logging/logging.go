package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global logger: console output on stdout and,
// if file is not empty, plain JSON lines appended to that file.
// An unknown level falls back to info.
func SetupLogging(level, file string) (io.Closer, error) {
	zerologLevel, parseErr := zerolog.ParseLevel(level)
	if parseErr != nil || level == "" {
		zerologLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zerologLevel)

	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stdout}
	var closer io.Closer = io.NopCloser(nil)
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writer = zerolog.MultiLevelWriter(writer, f)
		closer = f
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()

	if parseErr != nil {
		log.Warn().Err(parseErr).Msg("Failed to parse log level, defaulting to info")
	}
	return closer, nil
}
