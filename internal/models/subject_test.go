package models

import "testing"

func TestQuotaMath(t *testing.T) {
	tests := []struct {
		name      string
		q         Quota
		global    int
		total     int
		canAdmit  bool
		remaining int
	}{
		{"base only, one below bound", Quota{BaseLimit: 2, ConsumedCount: 1}, 3, 2, true, 1},
		{"base only, at bound", Quota{BaseLimit: 2, ConsumedCount: 2}, 3, 2, false, 0},
		{"global reward", Quota{BaseLimit: 1, ReferralCount: 2, ConsumedCount: 6}, 3, 7, true, 1},
		{"subject reward overrides global", Quota{BaseLimit: 1, ReferralCount: 2, ReferralReward: 5, ConsumedCount: 11}, 3, 11, false, 0},
		{"lowered limit leaves overflow", Quota{BaseLimit: 1, ConsumedCount: 3}, 3, 1, false, 0},
		{"invalid global reward floors at one", Quota{BaseLimit: 0, ReferralCount: 1}, 0, 1, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Total(tt.global); got != tt.total {
				t.Fatalf("Total = %d, want %d", got, tt.total)
			}
			if got := tt.q.CanAdmit(tt.global); got != tt.canAdmit {
				t.Fatalf("CanAdmit = %v, want %v", got, tt.canAdmit)
			}
			if got := tt.q.Remaining(tt.global); got != tt.remaining {
				t.Fatalf("Remaining = %d, want %d", got, tt.remaining)
			}
		})
	}
}

func TestReachable(t *testing.T) {
	s := Subject{ID: 1, ChatID: 1, Notifications: true}
	if !s.Reachable() {
		t.Fatal("expected subject to be reachable")
	}
	s.Notifications = false
	if s.Reachable() {
		t.Fatal("opted-out subject must not be reachable")
	}
	s.Notifications = true
	s.ChatID = 0
	if s.Reachable() {
		t.Fatal("subject without chat id must not be reachable")
	}
}
