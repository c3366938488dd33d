package remote

import (
	"os"
	"path/filepath"
	"testing"
)

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return path
}

func TestLoadInventory(t *testing.T) {
	path := writeInventory(t, `
targets:
  - name: studio-a
    host: 10.0.0.10
    user: rig
    key_file: /home/rig/.ssh/id_ed25519
  - name: studio-b
    host: studio-b.local
    port: 2222
    user: rig
    password: bootstrap-only
    profile: ./studio-b.cue
`)

	inv, err := LoadInventory(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(inv.Targets) != 2 {
		t.Fatalf("Expected 2 targets, got %d", len(inv.Targets))
	}

	a := inv.Targets[0]
	if a.Port != 22 {
		t.Errorf("Expected default port 22, got %d", a.Port)
	}
	if a.Address() != "10.0.0.10:22" {
		t.Errorf("Expected address 10.0.0.10:22, got %s", a.Address())
	}

	b := inv.Targets[1]
	if b.Address() != "studio-b.local:2222" {
		t.Errorf("Expected explicit port kept, got %s", b.Address())
	}
	if b.Profile != "./studio-b.cue" {
		t.Errorf("Expected per-target profile, got %q", b.Profile)
	}
}

func TestLoadInventory_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing name",
			content: `
targets:
  - host: 10.0.0.10
    user: rig
    key_file: /k
`,
		},
		{
			name: "duplicate names",
			content: `
targets:
  - name: a
    host: h1
    user: rig
    key_file: /k
  - name: a
    host: h2
    user: rig
    key_file: /k
`,
		},
		{
			name: "missing host",
			content: `
targets:
  - name: a
    user: rig
    key_file: /k
`,
		},
		{
			name: "missing user",
			content: `
targets:
  - name: a
    host: h
    key_file: /k
`,
		},
		{
			name: "no credentials",
			content: `
targets:
  - name: a
    host: h
    user: rig
`,
		},
		{
			name:    "malformed yaml",
			content: "targets: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadInventory(writeInventory(t, tt.content)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestLoadInventory_MissingFile(t *testing.T) {
	if _, err := LoadInventory(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected an error")
	}
}

func TestInventory_Find(t *testing.T) {
	inv := &Inventory{Targets: []Target{
		{Name: "studio-a"},
		{Name: "studio-b"},
	}}

	target, err := inv.Find("studio-b")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if target.Name != "studio-b" {
		t.Errorf("Expected studio-b, got %s", target.Name)
	}

	if _, err := inv.Find("studio-z"); err == nil {
		t.Error("Expected an error for an unknown target")
	}
}
