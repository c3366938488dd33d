package profile

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// Loader parses CUE profile documents. The profile lives under the
// top-level "profile" field, so a document can carry schema and helper
// definitions alongside it.
type Loader struct {
	ctx *cue.Context
}

// NewLoader creates a profile loader.
func NewLoader() *Loader {
	return &Loader{ctx: cuecontext.New()}
}

// Load parses a profile from a .cue file or a directory of .cue files,
// then validates it.
func (l *Loader) Load(source string) (*Profile, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", source, err)
	}

	var val cue.Value
	if info.IsDir() {
		val, err = l.loadDirectory(source)
	} else {
		val, err = l.loadFile(source)
	}
	if err != nil {
		return nil, err
	}
	return l.extract(val, source)
}

// LoadInline parses a profile from in-memory CUE content. Used for the
// embedded default profile and in tests.
func (l *Loader) LoadInline(content, name string) (*Profile, error) {
	val := l.ctx.CompileString(content, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("%s: %s", name, cueDetails(err))
	}
	return l.extract(val, name)
}

func (l *Loader) loadDirectory(dir string) (cue.Value, error) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE files found in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("%s: %s", dir, cueDetails(inst.Err))
	}
	val := l.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("%s: %s", dir, cueDetails(err))
	}
	return val, nil
}

func (l *Loader) loadFile(path string) (cue.Value, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	val := l.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("%s: %s", path, cueDetails(err))
	}
	return val, nil
}

func (l *Loader) extract(val cue.Value, source string) (*Profile, error) {
	profileVal := val.LookupPath(cue.ParsePath("profile"))
	if !profileVal.Exists() {
		return nil, fmt.Errorf("%s: no top-level profile field", source)
	}

	var p Profile
	if err := profileVal.Decode(&p); err != nil {
		return nil, fmt.Errorf("%s: failed to decode profile: %s", source, cueDetails(err))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// cueDetails flattens CUE's positioned error list into one readable
// message.
func cueDetails(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := e.Error()
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			msg = fmt.Sprintf("%s:%d: %s", pos[0].Filename(), pos[0].Line(), msg)
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
