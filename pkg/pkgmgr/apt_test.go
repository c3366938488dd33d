package pkgmgr

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openrig/rigup/pkg/execute"
)

// fakeRunner scripts responses by command prefix. Unmatched commands
// succeed with empty output.
type fakeRunner struct {
	responses map[string]*execute.Result
	errors    map[string]error
	calls     []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: make(map[string]*execute.Result),
		errors:    make(map[string]error),
	}
}

func (f *fakeRunner) Run(_ context.Context, argv []string, _ execute.Options) (*execute.Result, error) {
	line := strings.Join(argv, " ")
	f.calls = append(f.calls, line)
	for prefix, err := range f.errors {
		if strings.HasPrefix(line, prefix) {
			return nil, err
		}
	}
	for prefix, result := range f.responses {
		if strings.HasPrefix(line, prefix) {
			return result, nil
		}
	}
	return &execute.Result{ExitCode: 0}, nil
}

func (f *fakeRunner) countCalls(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func installedResult() *execute.Result {
	return &execute.Result{ExitCode: 0, Stdout: "install ok installed"}
}

func notInstalledResult() *execute.Result {
	return &execute.Result{ExitCode: 1, Stderr: "no packages found"}
}

func TestInstaller_Install_CacheRefreshedOncePerProcess(t *testing.T) {
	runner := newFakeRunner()
	runner.responses["dpkg-query"] = notInstalledResult()
	installer := NewInstaller(runner, zerolog.Nop())

	if _, err := installer.Install(context.Background(), []string{"alsa-utils"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := installer.Install(context.Background(), []string{"jackd2"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := runner.countCalls("apt-get update"); got != 1 {
		t.Errorf("Expected exactly 1 cache refresh, got %d", got)
	}
}

func TestInstaller_Install_AlreadyPresentSkipsApt(t *testing.T) {
	runner := newFakeRunner()
	runner.responses["dpkg-query"] = installedResult()
	installer := NewInstaller(runner, zerolog.Nop())

	report, err := installer.Install(context.Background(), []string{"alsa-utils", "jackd2"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !report.Ok() {
		t.Errorf("Expected report to be ok, got failures: %v", report.Failed)
	}
	if len(report.AlreadyPresent) != 2 {
		t.Errorf("Expected 2 already-present packages, got %v", report.AlreadyPresent)
	}
	if got := runner.countCalls("apt-get install"); got != 0 {
		t.Errorf("Expected no install invocations, got %d", got)
	}
}

func TestInstaller_Install_BatchSucceeds(t *testing.T) {
	runner := newFakeRunner()
	runner.responses["dpkg-query"] = notInstalledResult()
	installer := NewInstaller(runner, zerolog.Nop())

	report, err := installer.Install(context.Background(), []string{"ardour", "guitarix"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !report.Ok() {
		t.Errorf("Expected report to be ok, got failures: %v", report.Failed)
	}
	if len(report.Installed) != 2 {
		t.Errorf("Expected 2 installed packages, got %v", report.Installed)
	}
	if got := runner.countCalls("apt-get install"); got != 1 {
		t.Errorf("Expected a single batch invocation, got %d", got)
	}
}

func TestInstaller_Install_BatchFailureFallsBackPerPackage(t *testing.T) {
	runner := newFakeRunner()
	runner.responses["dpkg-query"] = notInstalledResult()
	// The batch and the broken package fail; the good package alone succeeds.
	runner.responses["apt-get install -y ardour no-such-pkg"] = &execute.Result{
		ExitCode: 100, Stderr: "E: Unable to locate package no-such-pkg"}
	runner.responses["apt-get install -y no-such-pkg"] = &execute.Result{
		ExitCode: 100, Stderr: "E: Unable to locate package no-such-pkg"}
	installer := NewInstaller(runner, zerolog.Nop())

	report, err := installer.Install(context.Background(), []string{"ardour", "no-such-pkg"})
	if err != nil {
		t.Fatalf("Expected no error for package failures, got: %v", err)
	}

	if report.Ok() {
		t.Error("Expected report not to be ok")
	}
	if len(report.Installed) != 1 || report.Installed[0] != "ardour" {
		t.Errorf("Expected ardour installed via fallback, got %v", report.Installed)
	}
	reason, ok := report.Failed["no-such-pkg"]
	if !ok {
		t.Fatalf("Expected no-such-pkg in failures, got %v", report.Failed)
	}
	if !strings.Contains(reason, "Unable to locate package") {
		t.Errorf("Expected apt's reason verbatim, got %q", reason)
	}

	// One retry only: batch attempt plus two per-package attempts.
	if got := runner.countCalls("apt-get install -y no-such-pkg"); got != 2 {
		t.Errorf("Expected 2 attempts for the failing package, got %d", got)
	}
}

func TestInstaller_Install_CacheRefreshFailureIsFatal(t *testing.T) {
	runner := newFakeRunner()
	runner.responses["apt-get update"] = &execute.Result{
		ExitCode: 100, Stderr: "E: Could not get lock /var/lib/apt/lists/lock"}
	installer := NewInstaller(runner, zerolog.Nop())

	_, err := installer.Install(context.Background(), []string{"alsa-utils"})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !strings.Contains(err.Error(), "apt-get update failed") {
		t.Errorf("Expected cache refresh failure, got: %v", err)
	}
}

func TestInstaller_Install_EmptyListIsNoop(t *testing.T) {
	runner := newFakeRunner()
	installer := NewInstaller(runner, zerolog.Nop())

	report, err := installer.Install(context.Background(), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !report.Ok() {
		t.Error("Expected an ok report")
	}
	if len(runner.calls) != 0 {
		t.Errorf("Expected no commands at all, got %v", runner.calls)
	}
}

func TestInstaller_Missing(t *testing.T) {
	runner := newFakeRunner()
	runner.responses["dpkg-query -W -f=${Status} alsa-utils"] = installedResult()
	runner.responses["dpkg-query -W -f=${Status} jackd2"] = notInstalledResult()
	installer := NewInstaller(runner, zerolog.Nop())

	missing := installer.Missing(context.Background(), []string{"alsa-utils", "jackd2"})
	if len(missing) != 1 || missing[0] != "jackd2" {
		t.Errorf("Expected only jackd2 missing, got %v", missing)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short passes through", "one\ntwo", "one\ntwo"},
		{"long keeps last three", "a\nb\nc\nd\ne", "c\nd\ne"},
		{"trailing whitespace trimmed", "only\n\n", "only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tail(tt.in); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
