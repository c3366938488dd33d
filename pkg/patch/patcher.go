// Package patch applies idempotent edits to line-oriented system files
// such as /etc/security/limits.conf and login profiles. Repeated
// application of the same edit never duplicates content.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openrig/rigup/pkg/provision"
)

// EditResult reports what EnsureLine or EnsureBlock did.
type EditResult string

const (
	// Applied means the content was absent and has been appended.
	Applied EditResult = "applied"

	// AlreadyPresent means the marker was found and nothing was written.
	AlreadyPresent EditResult = "already_present"
)

// Patcher performs idempotent file edits.
type Patcher struct{}

// NewPatcher creates a file patcher.
func NewPatcher() *Patcher {
	return &Patcher{}
}

// EnsureLine guarantees the file at path contains a line exactly equal to
// marker. A missing file is treated as empty and created with mode 0644.
// Calling it N times with the same arguments produces the same file
// content as calling it once.
func (p *Patcher) EnsureLine(path, marker string) (EditResult, error) {
	return p.ensure(path, marker, marker)
}

// EnsureBlock guarantees the file contains the marker line; when absent,
// the whole block (which must include the marker) is appended. Used for
// multi-line fragments keyed by a comment header.
func (p *Patcher) EnsureBlock(path, marker, block string) (EditResult, error) {
	if !strings.Contains(block, marker) {
		return "", provision.NewIOError(
			fmt.Sprintf("block for %s does not contain its marker line", path), nil)
	}
	return p.ensure(path, marker, block)
}

// Contains reports whether the file already holds a line exactly equal to
// marker. A missing file simply does not contain it.
func (p *Patcher) Contains(path, marker string) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, provision.NewIOError(fmt.Sprintf("failed to read %s", path), err)
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if line == marker {
			return true, nil
		}
	}
	return false, nil
}

func (p *Patcher) ensure(path, marker, content string) (EditResult, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return "", provision.NewIOError(fmt.Sprintf("failed to read %s", path), err)
	}

	for _, line := range strings.Split(string(existing), "\n") {
		if line == marker {
			return AlreadyPresent, nil
		}
	}

	updated := string(existing)
	if updated != "" && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	updated += content
	if !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}

	if err := writeAtomic(path, []byte(updated), 0o644); err != nil {
		return "", err
	}
	return Applied, nil
}

// writeAtomic writes data to a temp file in the target's directory and
// renames it into place, so readers never observe a partial file.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return provision.NewIOError(fmt.Sprintf("failed to create temp file in %s", dir), err)
	}
	tmpName := tmp.Name()

	// Preserve the original mode when the file already exists.
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return provision.NewIOError(fmt.Sprintf("failed to write %s", tmpName), err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return provision.NewIOError(fmt.Sprintf("failed to chmod %s", tmpName), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return provision.NewIOError(fmt.Sprintf("failed to close %s", tmpName), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return provision.NewIOError(fmt.Sprintf("failed to rename into %s", path), err)
	}
	return nil
}

// WriteFile atomically replaces the file at path with data. Used by the
// supervisor bridge for unit files, where the whole file is owned.
func WriteFile(path string, data []byte, mode os.FileMode) error {
	return writeAtomic(path, data, mode)
}

// Apply applies a declarative FileEdit.
func (p *Patcher) Apply(edit provision.FileEdit) (EditResult, error) {
	return p.EnsureLine(edit.Path, edit.Marker)
}
