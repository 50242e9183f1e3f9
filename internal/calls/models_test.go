package calls

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusQueued, false},
		{JobStatusRunning, JobStatusQueued, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestValidateTransitionWrapsSentinel(t *testing.T) {
	err := ValidateTransition(JobStatusCompleted, JobStatusRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range Statuses {
		want := s == JobStatusCompleted || s == JobStatusFailed
		if s.Terminal() != want {
			t.Fatalf("terminal(%s) = %v", s, s.Terminal())
		}
	}
}

func TestProtocolDefaults(t *testing.T) {
	if ProtocolAMI.DefaultPort() != 5038 || ProtocolARI.DefaultPort() != 8088 || ProtocolESL.DefaultPort() != 8021 {
		t.Fatalf("unexpected default ports")
	}
	if Protocol("sip").Valid() {
		t.Fatalf("expected sip to be rejected")
	}
}

func TestCredentialSecretIsNotSerialized(t *testing.T) {
	b, err := json.Marshal(Credential{ID: "c1", Secret: "hunter2"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "hunter2") {
		t.Fatalf("secret leaked: %s", b)
	}
}
