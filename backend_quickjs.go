//go:build !v8

package sapi

import (
	"github.com/cryguy/sapi/internal/core"
	"github.com/cryguy/sapi/internal/quickjs"
)

func newBackend(opts core.Options) core.EngineBackend {
	return quickjs.New(opts)
}

func globalStartup() error {
	return quickjs.GlobalStartup()
}

func backendVersion() core.VersionInfo {
	return quickjs.Version()
}
