package core

import "runtime/debug"

// LibraryVersion names one library linked into the engine adapter.
type LibraryVersion struct {
	Name    string
	Version string
}

// VersionInfo describes a guest engine build. It backs the version
// descriptor in the exported API table.
type VersionInfo struct {
	Engine        string // adapter name, e.g. "quickjs"
	EngineVersion string // engine library version string
	VersionID     int    // numeric version id for cheap comparisons
	Debug         bool
	ThreadSafe    bool
	Libraries     []LibraryVersion
}

// ModuleVersion reports the resolved version of a dependency module from
// the running binary's build info, or "" when unavailable (tests, GOPATH
// builds).
func ModuleVersion(path string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, dep := range info.Deps {
		if dep.Path == path {
			return dep.Version
		}
	}
	return ""
}
