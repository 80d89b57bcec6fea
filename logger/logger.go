package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger at level. With an empty path it writes human
// readable lines to stdout, otherwise JSON lines appended to the file at
// path. The returned closer releases the file.
func New(path string, level string) (zerolog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	if len(path) == 0 {
		w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
		return zerolog.New(w).Level(lvl).With().Timestamp().Str("sys", "tkernel").Logger(), nopCloser{}, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("logger: %w", err)
	}
	l := zerolog.New(f).Level(lvl).With().Timestamp().Str("sys", "tkernel").Logger()
	l.Info().Str("path", path).Msg("log opened")
	return l, f, nil
}

// ParseLevel accepts zerolog level names; empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logger: %w", err)
	}
	return lvl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
