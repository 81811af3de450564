package messenger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	ta "github.com/mymmrac/telego/telegoapi"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, Delivered},
		{"unreachable", fmt.Errorf("%w: blocked", ErrUnreachable), Unreachable},
		{"timeout", context.DeadlineExceeded, Failed},
		{"other", errors.New("500 internal"), Failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsUnreachable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"api 403", fmt.Errorf("telego: sendMessage: %w", &ta.Error{ErrorCode: 403, Description: "Forbidden: bot was blocked by the user"}), true},
		{"chat not found", &ta.Error{ErrorCode: 400, Description: "Bad Request: chat not found"}, true},
		{"deactivated text", errors.New("Forbidden: user is deactivated"), true},
		{"rate limited", &ta.Error{ErrorCode: 429, Description: "Too Many Requests: retry after 3"}, false},
		{"network", errors.New("dial tcp: i/o timeout"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnreachable(tt.err); got != tt.want {
				t.Fatalf("IsUnreachable = %v, want %v", got, tt.want)
			}
		})
	}
}
