// Package remote bootstraps rigup onto other hosts over SSH: it uploads
// the binary and a profile, then runs the apply there. Targets come from
// a YAML inventory file.
package remote

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Target is one host in the inventory.
type Target struct {
	// Name identifies the target in logs and on the command line.
	Name string `yaml:"name"`

	// Host is the hostname or address to connect to.
	Host string `yaml:"host"`

	// Port is the SSH port, 22 when zero.
	Port int `yaml:"port,omitempty"`

	// User is the SSH login user.
	User string `yaml:"user"`

	// KeyFile is the path to the private key used for authentication.
	KeyFile string `yaml:"key_file,omitempty"`

	// Password authenticates when no key file is given. Intended for
	// first-contact bootstrap only.
	Password string `yaml:"password,omitempty"`

	// Profile is an optional per-target profile path, overriding the
	// one given on the command line.
	Profile string `yaml:"profile,omitempty"`
}

// Inventory is the parsed target list.
type Inventory struct {
	Targets []Target `yaml:"targets"`
}

// LoadInventory parses the YAML inventory at path.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}

	seen := make(map[string]bool, len(inv.Targets))
	for i := range inv.Targets {
		t := &inv.Targets[i]
		if t.Name == "" {
			return nil, fmt.Errorf("inventory %s: target %d has no name", path, i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("inventory %s: duplicate target name %q", path, t.Name)
		}
		seen[t.Name] = true
		if t.Host == "" {
			return nil, fmt.Errorf("target %s: host is required", t.Name)
		}
		if t.User == "" {
			return nil, fmt.Errorf("target %s: user is required", t.Name)
		}
		if t.KeyFile == "" && t.Password == "" {
			return nil, fmt.Errorf("target %s: either key_file or password is required", t.Name)
		}
		if t.Port == 0 {
			t.Port = 22
		}
	}
	return &inv, nil
}

// Find returns the named target.
func (inv *Inventory) Find(name string) (*Target, error) {
	for i := range inv.Targets {
		if inv.Targets[i].Name == name {
			return &inv.Targets[i], nil
		}
	}
	return nil, fmt.Errorf("target %q not in inventory", name)
}

// Address returns the host:port dial address.
func (t *Target) Address() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}
