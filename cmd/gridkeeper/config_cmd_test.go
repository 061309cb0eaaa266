package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/vergegrid/gridkeeper/internal/config"
)

func TestConfigShowRun(t *testing.T) {
	withGlobals(t, config.DefaultConfig(), nil)

	out := captureStdout(t, func() {
		if err := configShowRun(nil, nil); err != nil {
			t.Fatalf("configShowRun returned error: %v", err)
		}
	})

	if !strings.Contains(out, "Current Configuration:") {
		t.Fatalf("expected header, got: %s", out)
	}
	if !strings.Contains(out, "database:") || !strings.Contains(out, "backup:") {
		t.Fatalf("expected config sections in output, got: %s", out)
	}
	if !strings.Contains(out, "VergeGridMySQL") {
		t.Fatalf("expected default service names in output, got: %s", out)
	}
}

func TestConfigInitRun(t *testing.T) {
	withGlobals(t, config.DefaultConfig(), nil)

	path := filepath.Join(t.TempDir(), "gridkeeper.yaml")
	origPath, origForce := configInitPath, configInitForce
	configInitPath = path
	configInitForce = false
	t.Cleanup(func() { configInitPath, configInitForce = origPath, origForce })

	out := captureStdout(t, func() {
		if err := configInitRun(nil, nil); err != nil {
			t.Fatalf("configInitRun returned error: %v", err)
		}
	})
	if !strings.Contains(out, path) {
		t.Fatalf("expected written path in output, got: %s", out)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" {
		t.Fatalf("unexpected default host %q", cfg.Database.Host)
	}

	// A second run without --force must refuse to overwrite.
	if err := configInitRun(nil, nil); err == nil {
		t.Fatal("expected an error when the file already exists")
	}

	configInitForce = true
	captureStdout(t, func() {
		if err := configInitRun(nil, nil); err != nil {
			t.Fatalf("configInitRun with --force returned error: %v", err)
		}
	})
}
