//go:build v8

package sapi

import (
	"github.com/cryguy/sapi/internal/core"
	"github.com/cryguy/sapi/internal/v8engine"
)

func newBackend(opts core.Options) core.EngineBackend {
	return v8engine.New(opts)
}

func globalStartup() error {
	return v8engine.GlobalStartup()
}

func backendVersion() core.VersionInfo {
	return v8engine.Version()
}
