package execute

import (
	"context"
	"testing"

	"github.com/openrig/rigup/pkg/provision"
)

type spyRunner struct {
	calls [][]string
}

func (s *spyRunner) Run(_ context.Context, argv []string, _ Options) (*Result, error) {
	s.calls = append(s.calls, argv)
	return &Result{ExitCode: 0, Stdout: "ok"}, nil
}

func TestProbeRunner_Run_ForwardsProbeCommands(t *testing.T) {
	spy := &spyRunner{}
	runner := NewProbeRunner(spy)

	result, err := runner.Run(context.Background(),
		[]string{"uname", "-r"}, Options{CaptureOutput: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result.Stdout != "ok" {
		t.Errorf("Expected the wrapped runner's result, got %q", result.Stdout)
	}
	if len(spy.calls) != 1 || spy.calls[0][0] != "uname" {
		t.Errorf("Expected one forwarded call, got %v", spy.calls)
	}
}

func TestProbeRunner_Run_RejectsMutatingCommands(t *testing.T) {
	spy := &spyRunner{}
	runner := NewProbeRunner(spy)

	for _, argv := range [][]string{
		{"apt-get", "install", "-y", "jackd2"},
		{"systemctl", "restart", "rigup-jack"},
		{"rm", "-rf", "/tmp/x"},
	} {
		if _, err := runner.Run(context.Background(), argv, Options{}); !provision.IsExecution(err) {
			t.Errorf("Expected %q to be refused, got: %v", argv[0], err)
		}
	}
	if len(spy.calls) != 0 {
		t.Errorf("Expected no forwarded calls, got %v", spy.calls)
	}
}

func TestProbeRunner_Run_RejectsDetachAndEmptyArgv(t *testing.T) {
	runner := NewProbeRunner(&spyRunner{})

	if _, err := runner.Run(context.Background(), nil, Options{}); err == nil {
		t.Error("Expected an error for empty argv")
	}
	if _, err := runner.Run(context.Background(),
		[]string{"aplay", "-l"}, Options{Detach: true}); err == nil {
		t.Error("Expected an error for a detached probe")
	}
}
