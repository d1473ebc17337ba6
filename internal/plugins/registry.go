package plugins

import (
	"log/slog"

	"github.com/joshp123/dreamehome/internal/config"
	"github.com/joshp123/dreamehome/internal/core"
)

// Factory builds a plugin instance from the loaded config.
type Factory func(*config.Config, *slog.Logger) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(cfg *config.Config, logger *slog.Logger) []core.Plugin {
	if cfg == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(cfg, logger)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
