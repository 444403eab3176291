package config

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger builds the process logger. dev gets a console writer, anything else JSON.
func (c Config) Logger(component string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if c.Env == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
