package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".sigil", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestDBPath(t *testing.T) {
	got := DBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "sigil.db")) {
		t.Errorf("DBPath(test) = %q, want suffix sessions/test/sigil.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestGroupStatePath(t *testing.T) {
	got := GroupStatePath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "groups.json")) {
		t.Errorf("GroupStatePath(test) = %q, want suffix sessions/test/groups.json", got)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("test")
	if !strings.HasSuffix(got, filepath.Join("test", "logs", "sigild.log")) {
		t.Errorf("LogPath(test) = %q, want suffix test/logs/sigild.log", got)
	}
}
