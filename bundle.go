package sapi

import "github.com/cryguy/sapi/internal/bundle"

// BundleScript resolves a script entry point's imports into one
// self-contained source string. Scripts without imports are returned
// as-is. Engine adapters bundle automatically on load; this is exposed
// for hosts that want to pre-bundle and cache.
func BundleScript(path string) (string, error) {
	return bundle.Load(path)
}
