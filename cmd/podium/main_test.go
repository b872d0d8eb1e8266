package main

import (
	"strings"
	"testing"

	"github.com/haasonsaas/podium/internal/config"
)

func TestBuildRootCmd(t *testing.T) {
	root := buildRootCmd()
	if root.Use != "podium" {
		t.Fatalf("use = %q", root.Use)
	}
	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("serve command missing: %v", err)
	}
	for _, flag := range []string{"config", "file", "port", "pin", "max-viewers", "tunnel", "log-level"} {
		if serve.Flags().Lookup(flag) == nil {
			t.Errorf("serve missing --%s", flag)
		}
	}
	if _, _, err := root.Find([]string{"version"}); err != nil {
		t.Fatalf("version command missing: %v", err)
	}
}

func TestVersionCommandOutput(t *testing.T) {
	root := buildRootCmd()
	var out strings.Builder
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Version: dev") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		if logger := newLogger(config.LoggingConfig{Level: level}); logger == nil {
			t.Fatalf("nil logger for level %q", level)
		}
	}
}
