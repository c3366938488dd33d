package execute

import (
	"context"
	"fmt"

	"github.com/openrig/rigup/pkg/provision"
)

// probeCommands are the read-only inspection commands fact collection is
// allowed to spawn.
var probeCommands = map[string]bool{
	"uname": true,
	"aplay": true,
}

// ProbeRunner wraps another Runner and refuses everything except known
// read-only probe commands. Fact collection runs through it so a dry run
// can still inspect the host but never mutate it.
type ProbeRunner struct {
	inner Runner
}

// NewProbeRunner creates a probe-only runner over inner.
func NewProbeRunner(inner Runner) *ProbeRunner {
	return &ProbeRunner{inner: inner}
}

// Run forwards argv to the wrapped runner when it names an allowed probe.
func (r *ProbeRunner) Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, provision.NewExecutionError("empty argv", nil)
	}
	if opts.Detach {
		return nil, provision.NewExecutionError(
			fmt.Sprintf("refusing to detach %q from a probe runner", argv[0]), nil)
	}
	if !probeCommands[argv[0]] {
		return nil, provision.NewExecutionError(
			fmt.Sprintf("command %q is not a read-only probe", argv[0]), nil)
	}
	return r.inner.Run(ctx, argv, opts)
}
