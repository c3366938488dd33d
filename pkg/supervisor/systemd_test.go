package supervisor

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openrig/rigup/pkg/execute"
)

// fakeRunner answers systemctl invocations. is-active returns the
// configured activity; everything else succeeds.
type fakeRunner struct {
	active bool
	calls  []string
}

func (f *fakeRunner) Run(_ context.Context, argv []string, _ execute.Options) (*execute.Result, error) {
	line := strings.Join(argv, " ")
	f.calls = append(f.calls, line)
	if strings.HasPrefix(line, "systemctl is-active") {
		if f.active {
			return &execute.Result{ExitCode: 0, Stdout: "active\n"}, nil
		}
		return &execute.Result{ExitCode: 3, Stdout: "inactive\n"}, nil
	}
	return &execute.Result{ExitCode: 0}, nil
}

func (f *fakeRunner) called(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func testDefinition() *Definition {
	return &Definition{
		Name:        "rigup-jack",
		Description: "JACK audio server",
		ExecStart:   "/usr/bin/jackd -R -d alsa -d hw:2 -r 48000",
		Restart:     RestartAlways,
		User:        "studio",
		After:       []string{"sound.target"},
	}
}

func TestBridge_RegisterAndStart_NewUnit(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{active: false}
	bridge := NewBridge(runner, zerolog.Nop()).WithUnitDir(dir)
	def := testDefinition()

	result, err := bridge.RegisterAndStart(context.Background(), def)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != Registered {
		t.Errorf("Expected %s, got %s", Registered, result)
	}

	data, err := os.ReadFile(def.UnitPath(dir))
	if err != nil {
		t.Fatalf("Expected unit file to exist, got: %v", err)
	}
	content := string(data)
	for _, want := range []string{
		"Description=JACK audio server",
		"After=sound.target",
		"ExecStart=/usr/bin/jackd -R -d alsa -d hw:2 -r 48000",
		"Restart=always",
		"User=studio",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Expected unit file to contain %q, got:\n%s", want, content)
		}
	}

	for _, cmd := range []string{
		"systemctl daemon-reload",
		"systemctl enable rigup-jack.service",
		"systemctl start rigup-jack.service",
	} {
		if !runner.called(cmd) {
			t.Errorf("Expected %q to be invoked, calls: %v", cmd, runner.calls)
		}
	}
}

func TestBridge_RegisterAndStart_IdenticalUnitIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	def := testDefinition()

	first := &fakeRunner{active: false}
	bridge := NewBridge(first, zerolog.Nop()).WithUnitDir(dir)
	if _, err := bridge.RegisterAndStart(context.Background(), def); err != nil {
		t.Fatalf("Setup registration failed: %v", err)
	}

	second := &fakeRunner{active: true}
	bridge = NewBridge(second, zerolog.Nop()).WithUnitDir(dir)
	result, err := bridge.RegisterAndStart(context.Background(), def)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != AlreadyRegistered {
		t.Errorf("Expected %s, got %s", AlreadyRegistered, result)
	}
	if second.called("systemctl daemon-reload") {
		t.Error("Expected no reload for an identical unit")
	}
	if second.called("systemctl restart") || second.called("systemctl start") {
		t.Error("Expected no start for an already active unit")
	}
}

func TestBridge_RegisterAndStart_IdenticalButInactiveStartsIt(t *testing.T) {
	dir := t.TempDir()
	def := testDefinition()

	setup := &fakeRunner{}
	if _, err := NewBridge(setup, zerolog.Nop()).WithUnitDir(dir).
		RegisterAndStart(context.Background(), def); err != nil {
		t.Fatalf("Setup registration failed: %v", err)
	}

	runner := &fakeRunner{active: false}
	result, err := NewBridge(runner, zerolog.Nop()).WithUnitDir(dir).
		RegisterAndStart(context.Background(), def)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != AlreadyRegistered {
		t.Errorf("Expected %s, got %s", AlreadyRegistered, result)
	}
	if !runner.called("systemctl start rigup-jack.service") {
		t.Errorf("Expected the stopped service to be started, calls: %v", runner.calls)
	}
}

func TestBridge_RegisterAndStart_ChangedUnitRestarts(t *testing.T) {
	dir := t.TempDir()
	def := testDefinition()

	setup := &fakeRunner{}
	if _, err := NewBridge(setup, zerolog.Nop()).WithUnitDir(dir).
		RegisterAndStart(context.Background(), def); err != nil {
		t.Fatalf("Setup registration failed: %v", err)
	}

	changed := testDefinition()
	changed.ExecStart = "/usr/bin/jackd -R -d alsa -d hw:3 -r 48000"

	runner := &fakeRunner{}
	result, err := NewBridge(runner, zerolog.Nop()).WithUnitDir(dir).
		RegisterAndStart(context.Background(), changed)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != Updated {
		t.Errorf("Expected %s, got %s", Updated, result)
	}
	if !runner.called("systemctl restart rigup-jack.service") {
		t.Errorf("Expected a restart, calls: %v", runner.calls)
	}

	data, _ := os.ReadFile(def.UnitPath(dir))
	if !strings.Contains(string(data), "hw:3") {
		t.Errorf("Expected the unit file rewritten, got:\n%s", string(data))
	}
}

func TestBridge_RegisterAndStart_RejectsInvalidDefinition(t *testing.T) {
	bridge := NewBridge(&fakeRunner{}, zerolog.Nop()).WithUnitDir(t.TempDir())

	_, err := bridge.RegisterAndStart(context.Background(), &Definition{Name: "broken"})
	if err == nil {
		t.Fatal("Expected an error for a definition without ExecStart")
	}
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{
			name: "complete",
			def:  Definition{Name: "s", ExecStart: "/bin/x", User: "u", Restart: RestartAlways},
		},
		{
			name:    "missing name",
			def:     Definition{ExecStart: "/bin/x", User: "u"},
			wantErr: true,
		},
		{
			name:    "missing exec",
			def:     Definition{Name: "s", User: "u"},
			wantErr: true,
		},
		{
			name:    "missing user",
			def:     Definition{Name: "s", ExecStart: "/bin/x"},
			wantErr: true,
		},
		{
			name:    "invalid restart policy",
			def:     Definition{Name: "s", ExecStart: "/bin/x", User: "u", Restart: "on-failure"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestDefinition_Render_DefaultsRestartAndDescription(t *testing.T) {
	def := &Definition{Name: "rigup-a2jmidid", ExecStart: "/usr/bin/a2jmidid -e", User: "studio"}

	data, err := def.Render()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "Description=rigup-a2jmidid") {
		t.Errorf("Expected the name as default description, got:\n%s", content)
	}
	if !strings.Contains(content, "Restart=no") {
		t.Errorf("Expected default restart policy no, got:\n%s", content)
	}
}
