package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name  string
		err   error
		class error
		msg   string
	}{
		{"validation", Validation("slot count must be a number, got %q", "abc"), ErrValidation, `slot count must be a number, got "abc"`},
		{"not found", NotFound("subject %d", 42), ErrNotFound, "Not found: subject 42."},
		{"collaborator", Collaborator("put object", cause), ErrCollaborator, "Service is temporarily unavailable, try again later."},
		{"wrapped quota", fmt.Errorf("admit: %w", ErrQuotaExceeded), ErrQuotaExceeded, "Upload limit reached. Invite friends or delete old files to free slots."},
		{"unauthorized", ErrUnauthorized, ErrUnauthorized, "This action is not available."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.class) {
				t.Fatalf("expected %v to be %v", tt.err, tt.class)
			}
			if got := UserMessage(tt.err); got != tt.msg {
				t.Fatalf("UserMessage = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestCollaboratorKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := Collaborator("send", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through errors.Is")
	}
}

func TestUserMessageUnknown(t *testing.T) {
	if got := UserMessage(errors.New("boom")); got != "Something went wrong, try again later." {
		t.Fatalf("unexpected message %q", got)
	}
	if UserMessage(nil) != "" {
		t.Fatal("expected empty message for nil error")
	}
}
