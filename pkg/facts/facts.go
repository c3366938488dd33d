// Package facts collects local host state used by profile guards: OS
// release, kernel, group membership, and ALSA card enumeration. Facts are
// collected fresh for every run and handed to guard expressions as plain
// maps.
package facts

import (
	"context"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrig/rigup/pkg/execute"
)

// Facts is a snapshot of the local host, keyed by namespace.
type Facts struct {
	// CollectedAt is when the snapshot was taken.
	CollectedAt time.Time `json:"collected_at"`

	// OS holds os-release fields (id, version_id, pretty_name).
	OS map[string]string `json:"os"`

	// Kernel is the running kernel release string.
	Kernel string `json:"kernel"`

	// Hostname is the host's name.
	Hostname string `json:"hostname"`

	// User is the invoking user's name.
	User string `json:"user"`

	// Groups are the invoking user's group names.
	Groups []string `json:"groups"`

	// AudioEnumeration is the raw `aplay -l` output, empty when the
	// command is unavailable. Device resolution parses it separately.
	AudioEnumeration string `json:"audio_enumeration"`
}

// Collector gathers facts through a Runner so collection honors dry-run
// and is testable with a fake.
type Collector struct {
	runner execute.Runner
	logger zerolog.Logger
}

// NewCollector creates a facts collector.
func NewCollector(runner execute.Runner, logger zerolog.Logger) *Collector {
	return &Collector{
		runner: runner,
		logger: logger.With().Str("component", "facts").Logger(),
	}
}

// Collect takes a fresh snapshot. Individual probes failing is not fatal:
// a guard referencing a missing fact sees an empty value and decides.
func (c *Collector) Collect(ctx context.Context) *Facts {
	f := &Facts{
		CollectedAt: time.Now(),
		OS:          parseOSRelease(readOr("/etc/os-release")),
	}

	if hostname, err := os.Hostname(); err == nil {
		f.Hostname = hostname
	}

	if u, err := user.Current(); err == nil {
		f.User = u.Username
		if gids, err := u.GroupIds(); err == nil {
			for _, gid := range gids {
				if g, err := user.LookupGroupId(gid); err == nil {
					f.Groups = append(f.Groups, g.Name)
				}
			}
		}
	}

	f.Kernel = c.capture(ctx, "uname", "-r")
	f.AudioEnumeration = c.capture(ctx, "aplay", "-l")

	c.logger.Debug().
		Str("os", f.OS["id"]).
		Str("kernel", f.Kernel).
		Int("groups", len(f.Groups)).
		Msg("facts collected")

	return f
}

// InGroup reports whether the invoking user belongs to the named group.
func (f *Facts) InGroup(name string) bool {
	for _, g := range f.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// GuardInput converts the snapshot into the map handed to guard
// expressions.
func (f *Facts) GuardInput() map[string]interface{} {
	groups := make([]interface{}, len(f.Groups))
	for i, g := range f.Groups {
		groups[i] = g
	}
	osm := make(map[string]interface{}, len(f.OS))
	for k, v := range f.OS {
		osm[k] = v
	}
	return map[string]interface{}{
		"os":       osm,
		"kernel":   f.Kernel,
		"hostname": f.Hostname,
		"user":     f.User,
		"groups":   groups,
	}
}

func (c *Collector) capture(ctx context.Context, argv ...string) string {
	result, err := c.runner.Run(ctx, argv,
		execute.Options{Timeout: 30 * time.Second, CaptureOutput: true})
	if err != nil || result.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}

func readOr(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// parseOSRelease parses /etc/os-release KEY=value lines, lower-casing the
// keys.
func parseOSRelease(content string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		out[strings.ToLower(key)] = value
	}
	return out
}
