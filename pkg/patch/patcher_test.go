package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPatcher_EnsureLine_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.conf")
	p := NewPatcher()

	result, err := p.EnsureLine(path, "snd-usb-audio")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != Applied {
		t.Errorf("Expected %s, got %s", Applied, result)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected file to exist, got: %v", err)
	}
	if string(data) != "snd-usb-audio\n" {
		t.Errorf("Expected single line with newline, got %q", string(data))
	}
}

func TestPatcher_EnsureLine_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.conf")
	p := NewPatcher()

	if _, err := p.EnsureLine(path, "@audio - rtprio 95"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected file to exist, got: %v", err)
	}

	for i := 0; i < 5; i++ {
		result, err := p.EnsureLine(path, "@audio - rtprio 95")
		if err != nil {
			t.Fatalf("Apply %d: expected no error, got: %v", i, err)
		}
		if result != AlreadyPresent {
			t.Errorf("Apply %d: expected %s, got %s", i, AlreadyPresent, result)
		}
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected file to exist, got: %v", err)
	}
	if string(after) != string(first) {
		t.Errorf("Expected file unchanged after repeats, got %q", string(after))
	}
}

func TestPatcher_EnsureLine_AppendsToExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile")
	if err := os.WriteFile(path, []byte("export EDITOR=vi"), 0o600); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	p := NewPatcher()
	if _, err := p.EnsureLine(path, "export JACK_NO_AUDIO_RESERVATION=1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, _ := os.ReadFile(path)
	want := "export EDITOR=vi\nexport JACK_NO_AUDIO_RESERVATION=1\n"
	if string(data) != want {
		t.Errorf("Expected %q, got %q", want, string(data))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected original mode 0600 preserved, got %v", info.Mode().Perm())
	}
}

func TestPatcher_EnsureLine_ExactLineMatchOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("# cpufreq_userspace disabled\n"), 0o644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	p := NewPatcher()
	result, err := p.EnsureLine(path, "cpufreq_userspace")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != Applied {
		t.Errorf("Expected substring occurrence not to satisfy the marker, got %s", result)
	}
}

func TestPatcher_EnsureBlock_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "25-audio.conf")
	marker := "# realtime audio limits"
	block := marker + "\n@audio - rtprio 95\n@audio - memlock unlimited"

	p := NewPatcher()
	result, err := p.EnsureBlock(path, marker, block)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != Applied {
		t.Errorf("Expected %s, got %s", Applied, result)
	}

	result, err = p.EnsureBlock(path, marker, block)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != AlreadyPresent {
		t.Errorf("Expected %s on repeat, got %s", AlreadyPresent, result)
	}

	data, _ := os.ReadFile(path)
	if strings.Count(string(data), "@audio - rtprio 95") != 1 {
		t.Errorf("Expected block exactly once, got %q", string(data))
	}
}

func TestPatcher_EnsureBlock_RejectsBlockWithoutMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	p := NewPatcher()

	if _, err := p.EnsureBlock(path, "# marker", "@audio - nice -19"); err == nil {
		t.Error("Expected an error for a block missing its marker")
	}
}

func TestPatcher_Contains(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	p := NewPatcher()

	tests := []struct {
		name   string
		path   string
		marker string
		want   bool
	}{
		{"present line", path, "two", true},
		{"absent line", path, "three", false},
		{"substring is not a line", path, "tw", false},
		{"missing file", filepath.Join(dir, "nope"), "one", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Contains(tt.path, tt.marker)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWriteFile_ReplacesContentAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit.service")

	if err := WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := WriteFile(path, []byte("new\n"), 0o644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected file to exist, got: %v", err)
	}
	if string(data) != "new\n" {
		t.Errorf("Expected replacement, got %q", string(data))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected no leftover temp files, found %d entries", len(entries))
	}
}
