package sapi

import (
	"errors"
	"reflect"
	"testing"

	"github.com/cryguy/sapi/internal/core"
)

func TestEngine_ModeGuards(t *testing.T) {
	workerEngine := New(ModeWorker, EngineConfig{})
	if _, err := workerEngine.Execute(&RequestContext{}); !errors.Is(err, ErrWorkerMode) {
		t.Errorf("Execute on worker engine = %v, want ErrWorkerMode", err)
	}

	webEngine := New(ModeWeb, EngineConfig{})
	if err := webEngine.GlobalInit(); !errors.Is(err, ErrNotWorkerMode) {
		t.Errorf("GlobalInit on web engine = %v, want ErrNotWorkerMode", err)
	}
	if _, err := webEngine.StartWorker("w.js", ""); !errors.Is(err, ErrNotWorkerMode) {
		t.Errorf("StartWorker on web engine = %v, want ErrNotWorkerMode", err)
	}

	cliEngine := New(ModeCLI, EngineConfig{})
	if err := cliEngine.Init(); err != nil {
		t.Errorf("CLI Init = %v, want nil (nothing to initialize)", err)
	}
}

func TestEngine_ShutdownIdempotent(t *testing.T) {
	e := New(ModeWeb, EngineConfig{})
	e.Shutdown()
	e.Shutdown()
}

func TestParseSettings(t *testing.T) {
	entries := "memory_limit=64M\n" +
		"display_errors = On\n" +
		"no equals sign here\n" +
		"=no key\n" +
		"\n" +
		"include_path=/a=/b"

	got := parseSettings(entries)
	want := []core.Setting{
		{Key: "memory_limit", Value: "64M"},
		{Key: "display_errors", Value: "On"},
		{Key: "include_path", Value: "/a=/b"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseSettings = %+v, want %+v", got, want)
	}
}

func TestParseSettings_Empty(t *testing.T) {
	if got := parseSettings(""); got != nil {
		t.Errorf("parseSettings(\"\") = %+v, want nil", got)
	}
}

func TestEngineConfig_Options(t *testing.T) {
	cfg := EngineConfig{MemoryLimitMB: 64, ExecutionTimeout: 3000, MaxResponseBytes: 1 << 20}
	settings := []core.Setting{{Key: "k", Value: "v"}}

	opts := cfg.options(settings)
	if opts.MemoryLimitMB != 64 || opts.ExecutionTimeout != 3000 {
		t.Errorf("options = %+v", opts)
	}
	if !reflect.DeepEqual(opts.Settings, settings) {
		t.Errorf("settings = %+v", opts.Settings)
	}
}

func TestWithSettings(t *testing.T) {
	e := New(ModeCLI, EngineConfig{}, WithSettings("a=1\nb=2"))
	if len(e.settings) != 2 || e.settings[0].Key != "a" || e.settings[1].Value != "2" {
		t.Errorf("settings = %+v", e.settings)
	}
}
