package profile

import (
	_ "embed"
	"fmt"
)

//go:embed profiles/workstation.cue
var workstationCUE string

// BuiltinName is the profile name loaded when no --profile flag is given.
const BuiltinName = "audio-workstation"

// LoadBuiltin returns the embedded default workstation profile.
func LoadBuiltin() (*Profile, error) {
	p, err := NewLoader().LoadInline(workstationCUE, "workstation.cue")
	if err != nil {
		return nil, fmt.Errorf("builtin profile: %w", err)
	}
	return p, nil
}
