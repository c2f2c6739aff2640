package sapi

import (
	"strings"

	"github.com/cryguy/sapi/internal/core"
)

// EngineConfig holds runtime configuration for the bridge and its guest
// engine instances.
type EngineConfig struct {
	MemoryLimitMB    int // per-instance engine memory limit, 0 = engine default
	ExecutionTimeout int // milliseconds before a running script is interrupted, 0 = none
	MaxResponseBytes int // max captured response size (body or headers), 0 = unlimited
}

// options converts the public config plus parsed INI entries into the
// backend-facing form.
func (cfg EngineConfig) options(settings []core.Setting) core.Options {
	return core.Options{
		MemoryLimitMB:    cfg.MemoryLimitMB,
		ExecutionTimeout: cfg.ExecutionTimeout,
		Settings:         settings,
	}
}

// parseSettings splits an INI-style entries string into settings: one
// "key=value" per '\n'-separated line, first '=' wins, lines without '='
// are ignored. The bridge never interprets the keys; they go to the
// engine adapter verbatim after startup.
func parseSettings(entries string) []core.Setting {
	var settings []core.Setting
	for _, line := range strings.Split(entries, "\n") {
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		if key == "" {
			continue
		}
		settings = append(settings, core.Setting{
			Key:   key,
			Value: strings.TrimSpace(line[eq+1:]),
		})
	}
	return settings
}
