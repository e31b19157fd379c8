package protocol

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := map[string]struct {
		cwd  string
		argv []string
		envp []string
	}{
		"typical": {
			cwd:  "/home/user/project",
			argv: []string{"run", "-n", "2", "sleep", "10"},
			envp: []string{"PATH=/usr/bin:/bin", "HOME=/home/user"},
		},
		"empty envp": {
			cwd:  "/tmp",
			argv: []string{"ls"},
			envp: nil,
		},
		"empty argv": {
			cwd:  "/tmp",
			argv: nil,
			envp: []string{"A=B"},
		},
		"both empty": {
			cwd:  "/",
			argv: nil,
			envp: nil,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			wire := Encode(test.cwd, test.argv, test.envp)

			end, ok := Scan(wire, len(wire))
			if !ok {
				t.Fatalf("Scan did not find request terminator")
			}
			if end != len(wire) {
				t.Fatalf("Scan end = %d, want %d", end, len(wire))
			}

			got, err := Decode(wire)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Cwd != test.cwd {
				t.Errorf("cwd = %q, want %q", got.Cwd, test.cwd)
			}
			if diff := cmp.Diff(test.argv, got.Argv); diff != "" {
				t.Errorf("argv mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(test.envp, got.Envp); diff != "" {
				t.Errorf("envp mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScanIncomplete(t *testing.T) {
	wire := Encode("/tmp", []string{"ls"}, []string{"A=B"})
	if _, ok := Scan(wire[:len(wire)-2], len(wire)-2); ok {
		t.Fatalf("Scan should not find a terminator in a truncated buffer")
	}
}

func TestScanPipelinedRequestsDoNotCollide(t *testing.T) {
	first := Encode("/tmp", []string{"ls"}, []string{"A=B"})
	second := Encode("/tmp", []string{"echo", "hi"}, []string{"A=B"})
	buf := append(append([]byte{}, first...), second...)

	end, ok := Scan(buf, len(buf))
	if !ok {
		t.Fatalf("Scan did not find first request terminator")
	}
	if end != len(first) {
		t.Fatalf("Scan end = %d, want %d (first request only)", end, len(first))
	}
}

func TestIsError(t *testing.T) {
	if !IsError(EncodeReply("ERROR: boom\n")) {
		t.Errorf("expected ERROR-prefixed reply to be recognized as an error")
	}
	if IsError(EncodeReply("Submitted job id 1: 'true'.\n")) {
		t.Errorf("expected non-ERROR reply to not be recognized as an error")
	}
}
