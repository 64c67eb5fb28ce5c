package app

import (
	"os"

	"telego/internal/config"
	"telego/internal/logx"
)

// NewLogger writes JSON lines to stdout at the configured level.
func NewLogger(cfg *config.Config) logx.Logger {
	return logx.NewJSON(os.Stdout, cfg.LogLevel).With(logx.String("service", "telego"))
}
