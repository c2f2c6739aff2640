// Package bundle loads guest scripts, bundling entry points that use
// imports into a single self-contained script with esbuild.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// Load reads the script at path and returns source the engine can
// evaluate directly. Scripts without import statements are returned
// as-is to avoid unnecessary processing.
func Load(path string) (string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}

	src := string(source)
	if !needsBundling(src) {
		return src, nil
	}
	return bundleEntry(path)
}

// bundleEntry runs esbuild on the entry point, resolving its imports
// into one IIFE-format script.
func bundleEntry(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving script path: %w", err)
	}

	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{abs},
		AbsWorkingDir: filepath.Dir(abs),
		Bundle:        true,
		Format:        esbuild.FormatIIFE,
		Write:         false,
		Platform:      esbuild.PlatformBrowser,
		Target:        esbuild.ES2020,
		TreeShaking:   esbuild.TreeShakingFalse,
	})

	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("bundling %s: %s", path, strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling %s produced no output", path)
	}
	return string(result.OutputFiles[0].Contents), nil
}

// needsBundling checks for import/require statements that require
// resolution before evaluation.
func needsBundling(source string) bool {
	return strings.Contains(source, "import ") ||
		strings.Contains(source, "import{") ||
		strings.Contains(source, "import(") ||
		strings.Contains(source, "require(")
}
