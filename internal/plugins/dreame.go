package plugins

import (
	"log/slog"

	"github.com/joshp123/dreamehome/internal/config"
	"github.com/joshp123/dreamehome/internal/core"
	"github.com/joshp123/dreamehome/plugins/dreame"
)

func init() {
	Register(func(cfg *config.Config, logger *slog.Logger) (core.Plugin, bool) {
		return dreame.NewPlugin(cfg.Dreame, logger)
	})
}
