package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"parkguard/internal/zones"
)

func TestRunFailsWithoutZones(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parkguard.yaml")
	body := "zones:\n  path: " + filepath.Join(dir, "missing.json") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	prev := *configPath
	*configPath = path
	defer func() { *configPath = prev }()

	err := run()
	var cfgErr *zones.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected zone config error, got %v", err)
	}
}
