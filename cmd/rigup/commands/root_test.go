package commands

import (
	"errors"
	"fmt"
	"testing"
)

func TestAbortExitCode(t *testing.T) {
	tests := []struct {
		name  string
		stage int
		want  int
	}{
		{"first stage", 0, 10},
		{"third stage", 2, 12},
		{"capped below shell range", 200, 125},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := abortExitCode(tt.stage); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestExitError_UnwrapsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("apply: %w", &ExitError{Code: 11, Message: "run aborted"})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatal("Expected errors.As to find the exit error")
	}
	if exitErr.Code != 11 {
		t.Errorf("Expected code 11, got %d", exitErr.Code)
	}
	if exitErr.Error() != "run aborted" {
		t.Errorf("Expected the message as error text, got %q", exitErr.Error())
	}
}
