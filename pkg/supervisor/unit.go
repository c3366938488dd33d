package supervisor

import (
	"bytes"
	"fmt"
	"text/template"
)

// RestartPolicy controls whether systemd restarts the service.
type RestartPolicy string

const (
	// RestartAlways restarts the service whenever it exits.
	RestartAlways RestartPolicy = "always"

	// RestartNever leaves a dead service down.
	RestartNever RestartPolicy = "no"
)

// Valid reports whether the policy is a defined variant.
func (p RestartPolicy) Valid() bool {
	return p == RestartAlways || p == RestartNever
}

// Definition describes a long-running audio process to register under
// systemd.
type Definition struct {
	// Name is the unit name without the .service suffix.
	Name string `json:"name"`

	// Description is the unit's Description= line.
	Description string `json:"description"`

	// ExecStart is the full command line to launch.
	ExecStart string `json:"exec_start"`

	// Restart is the restart policy.
	Restart RestartPolicy `json:"restart"`

	// User is the account the service runs as.
	User string `json:"user"`

	// WorkingDir is the service's working directory, optional.
	WorkingDir string `json:"working_dir,omitempty"`

	// After lists units this one is ordered after, optional.
	After []string `json:"after,omitempty"`

	// Environment holds KEY=VALUE pairs for the unit, optional.
	Environment []string `json:"environment,omitempty"`
}

// Validate checks the definition is complete enough to render.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("unit name is required")
	}
	if d.ExecStart == "" {
		return fmt.Errorf("unit %s: ExecStart is required", d.Name)
	}
	if d.User == "" {
		return fmt.Errorf("unit %s: user is required", d.Name)
	}
	if d.Restart == "" {
		d.Restart = RestartNever
	}
	if !d.Restart.Valid() {
		return fmt.Errorf("unit %s: invalid restart policy %q", d.Name, d.Restart)
	}
	return nil
}

// unitTemplate renders a plain [Unit]/[Service]/[Install] file. Audio
// services get a graphical-session-free default target so they come up on
// headless boots.
var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description={{.Description}}
{{- range .After}}
After={{.}}
{{- end}}

[Service]
Type=simple
ExecStart={{.ExecStart}}
Restart={{.Restart}}
User={{.User}}
{{- if .WorkingDir}}
WorkingDirectory={{.WorkingDir}}
{{- end}}
{{- range .Environment}}
Environment={{.}}
{{- end}}

[Install]
WantedBy=multi-user.target
`))

// Render produces the unit file content for the definition.
func (d *Definition) Render() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	desc := d.Description
	if desc == "" {
		desc = d.Name
	}
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, struct {
		Definition
		Description string
	}{*d, desc}); err != nil {
		return nil, fmt.Errorf("failed to render unit %s: %w", d.Name, err)
	}
	return buf.Bytes(), nil
}

// UnitPath returns the on-disk path for the definition's unit file.
func (d *Definition) UnitPath(unitDir string) string {
	return fmt.Sprintf("%s/%s.service", unitDir, d.Name)
}
