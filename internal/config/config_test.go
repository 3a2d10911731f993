package config

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	want := &Config{
		DefaultSession: "work",
		Identity:       "alice",
		Sessions: map[string]SessionConfig{
			"work": {Identity: "alice-work"},
		},
	}
	if err := Save(path, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want work", got.DefaultSession)
	}
	if got.Identity != "alice" {
		t.Errorf("Identity = %q, want alice", got.Identity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("Load() on missing file should error")
	}
}

func TestIdentityFor(t *testing.T) {
	cfg := &Config{
		Identity: "alice",
		Sessions: map[string]SessionConfig{
			"work": {Identity: "alice-work"},
		},
	}
	if got := cfg.IdentityFor("work"); got != "alice-work" {
		t.Errorf("IdentityFor(work) = %q, want alice-work", got)
	}
	if got := cfg.IdentityFor("main"); got != "alice" {
		t.Errorf("IdentityFor(main) = %q, want alice", got)
	}
}
