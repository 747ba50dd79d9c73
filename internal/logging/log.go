// Package logging настраивает slog для сервиса конвейера.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdobak/go-xerrors"
)

// ParseLevel переводит строку из конфига в уровень slog.
// Допустимые значения: "debug", "info", "warn", "error".
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New создаёт логгер. JSON в production, текст при разработке.
func New(w io.Writer, level string, production bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if production {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init создаёт логгер в stdout и делает его логгером по умолчанию
func Init(level string) *slog.Logger {
	logger := New(os.Stdout, level, os.Getenv("GO_ENV") == "production")
	slog.SetDefault(logger)
	return logger
}

// Discard логгер для тестов
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Err атрибут ошибки со стеком вызова
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.Any("error", xerrors.New(err))
}
