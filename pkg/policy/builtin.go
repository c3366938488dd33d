package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		serviceUserPolicy(),
		execStartPathPolicy(),
		packageNamePolicy(),
		detachedSpawnPolicy(),
	}
}

// serviceUserPolicy forbids registering services that run as root. Audio
// services have no business with uid 0; JACK refuses realtime scheduling
// for it anyway.
func serviceUserPolicy() Policy {
	return Policy{
		Name:        "service-user",
		Description: "Services must not run as root",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"services", "privileges"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package rigup.policies.service_user

import rego.v1

deny contains violation if {
	some stage in input.profile.stages
	some step in stage.steps
	step.service
	step.service.user == "root"
	violation := {
		"message": sprintf("service %s must not run as root", [step.service.name]),
		"severity": "error",
		"step": step.id,
	}
}

deny contains violation if {
	some stage in input.profile.stages
	some step in stage.steps
	step.service
	not step.service.user
	violation := {
		"message": sprintf("service %s declares no user", [step.service.name]),
		"severity": "error",
		"step": step.id,
	}
}
`,
	}
}

// execStartPathPolicy requires absolute ExecStart paths, matching what
// systemd itself enforces. Catching it here fails the run before a unit
// file is written.
func execStartPathPolicy() Policy {
	return Policy{
		Name:        "exec-start-path",
		Description: "Service ExecStart must be an absolute path",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"services"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package rigup.policies.exec_start

import rego.v1

deny contains violation if {
	some stage in input.profile.stages
	some step in stage.steps
	step.service
	not startswith(step.service.exec_start, "/")
	violation := {
		"message": sprintf("service %s ExecStart %q is not an absolute path", [step.service.name, step.service.exec_start]),
		"severity": "error",
		"step": step.id,
	}
}
`,
	}
}

// packageNamePolicy rejects package names with shell metacharacters.
// Package lists come from profiles that may be fetched remotely; a name
// is never a place for options or expansions.
func packageNamePolicy() Policy {
	return Policy{
		Name:        "package-name",
		Description: "Package names must be plain Debian package names",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"packages"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package rigup.policies.package_name

import rego.v1

deny contains violation if {
	some stage in input.profile.stages
	some step in stage.steps
	step.packages
	some name in step.packages.names
	not regex.match("^[a-z0-9][a-z0-9+.-]*$", name)
	violation := {
		"message": sprintf("package name %q is not a valid Debian package name", [name]),
		"severity": "error",
		"step": step.id,
	}
}
`,
	}
}

// detachedSpawnPolicy warns about spawn steps without an unless_running
// guard: every re-run would launch another copy of the process.
func detachedSpawnPolicy() Policy {
	return Policy{
		Name:        "detached-spawn",
		Description: "Detached spawns should guard against duplicate launches",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"spawn", "idempotence"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package rigup.policies.detached_spawn

import rego.v1

deny contains violation if {
	some stage in input.profile.stages
	some step in stage.steps
	step.spawn
	not step.spawn.unless_running
	violation := {
		"message": sprintf("spawn step %s has no unless_running guard; repeated applies will launch duplicates", [step.id]),
		"severity": "warning",
		"step": step.id,
	}
}
`,
	}
}
