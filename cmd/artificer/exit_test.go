package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/artificer/runtime"
)

func TestHandleExit(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
		noExit   bool
	}{
		{name: "nil error", err: nil, noExit: true},
		{name: "no message", err: cli.Exit("", 0), wantCode: 0},
		{name: "action failed", err: cli.Exit("one or more actions failed", runtime.ExitCodeActionFailed), wantCode: 1, wantOut: "one or more actions failed\n"},
		{name: "incomplete", err: cli.Exit("", runtime.ExitCodeIncomplete), wantCode: 3},
		{name: "aborted", err: cli.Exit("session aborted", runtime.ExitCodeAborted), wantCode: 130, wantOut: "session aborted\n"},
		{name: "wrapped", err: errors.Join(errors.New("context"), cli.Exit("inner", 42)), wantCode: 42, wantOut: "inner\n"},
		{name: "regular error", err: errors.New("boom"), wantCode: 1, wantOut: "Error: boom\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code := -1
			handleExit(tt.err, &out, func(c int) { code = c })

			if tt.noExit {
				if code != -1 {
					t.Errorf("exit called with %d, want no exit", code)
				}
				return
			}
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", code, tt.wantCode)
			}
			if out.String() != tt.wantOut {
				t.Errorf("stderr = %q, want %q", out.String(), tt.wantOut)
			}
		})
	}
}
