package execute

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DryRunner records intended invocations without spawning any process.
// Every call succeeds with exit code 0 and empty output, so steps behind
// it proceed as if the command worked.
type DryRunner struct {
	logger zerolog.Logger

	mu       sync.Mutex
	recorded []string
}

// NewDryRunner creates a recording runner.
func NewDryRunner(logger zerolog.Logger) *DryRunner {
	return &DryRunner{
		logger: logger.With().Str("component", "runner").Bool("dry_run", true).Logger(),
	}
}

// Run logs the command that would have run and returns a zero result.
func (r *DryRunner) Run(_ context.Context, argv []string, opts Options) (*Result, error) {
	line := Quote(argv)
	r.mu.Lock()
	r.recorded = append(r.recorded, line)
	r.mu.Unlock()

	r.logger.Info().
		Str("command", line).
		Bool("detach", opts.Detach).
		Msg("would run")

	return &Result{ExitCode: 0}, nil
}

// Recorded returns the command lines recorded so far, in call order.
func (r *DryRunner) Recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.recorded))
	copy(out, r.recorded)
	return out
}
