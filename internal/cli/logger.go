package cli

import (
	"log/slog"
	"os"

	"simulacro-engine/internal/config"
	"simulacro-engine/internal/lib/slogcustom"
)

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	if cfg.LogJSON() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slogcustom.NewHandler(os.Stdout, level))
}
