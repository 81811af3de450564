package auth

import (
	"errors"
	"testing"

	"slotbox-bot/internal/apperr"
)

func TestGate(t *testing.T) {
	g := NewGate([]int64{100, 200})

	tests := []struct {
		id    int64
		admin bool
	}{
		{100, true},
		{200, true},
		{300, false},
		{0, false},
	}
	for _, tt := range tests {
		if got := g.IsAdmin(tt.id); got != tt.admin {
			t.Errorf("IsAdmin(%d) = %v, want %v", tt.id, got, tt.admin)
		}
		err := g.Require(tt.id)
		if tt.admin && err != nil {
			t.Errorf("Require(%d) returned %v", tt.id, err)
		}
		if !tt.admin && !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("Require(%d) = %v, want ErrUnauthorized", tt.id, err)
		}
	}
}

func TestEmptyGate(t *testing.T) {
	if NewGate(nil).IsAdmin(1) {
		t.Fatal("empty gate must reject everyone")
	}
}
