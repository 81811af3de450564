// Package state keeps the pending conversation step of each actor. States are
// in-memory only and do not survive a restart.
package state

import (
	"sync"
	"time"
)

type Step string

const (
	StepNone Step = ""

	StepSetLimitTarget  Step = "admin_set_limit_target"
	StepSetLimitValue   Step = "admin_set_limit_value"
	StepSetRewardTarget Step = "admin_set_reward_target"
	StepSetRewardValue  Step = "admin_set_reward_value"
	StepBulkLimit       Step = "admin_bulk_limit"
	StepBulkReward      Step = "admin_bulk_reward"
	StepBroadcast       Step = "admin_broadcast"
	StepMessageTarget   Step = "admin_message_target"
	StepMessageText     Step = "admin_message_text"
	StepBan             Step = "admin_ban"
	StepUnban           Step = "admin_unban"
	StepGrantPremium    Step = "admin_grant_premium"
	StepRevokePremium   Step = "admin_revoke_premium"
	StepSetExtensions   Step = "admin_set_extensions"
	StepSetWelcome      Step = "admin_set_welcome"
	StepLookup          Step = "admin_lookup"
)

type State struct {
	Step      Step
	Target    *int64
	CreatedAt time.Time
}

// Store is keyed by actor id. Take is the only way to consume a state.
type Store struct {
	mu     sync.Mutex
	states map[int64]State
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		states: make(map[int64]State),
		now:    time.Now,
	}
}

// Set overwrites any pending state of the actor.
func (s *Store) Set(actorID int64, step Step, target *int64) {
	st := State{Step: step, CreatedAt: s.now()}
	if target != nil {
		t := *target
		st.Target = &t
	}

	s.mu.Lock()
	s.states[actorID] = st
	s.mu.Unlock()
}

// Take reads and clears the actor's state in one critical section.
func (s *Store) Take(actorID int64) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[actorID]
	if ok {
		delete(s.states, actorID)
	}
	return st, ok
}

// Has reports whether the actor is waiting in step, without consuming it.
func (s *Store) Has(actorID int64, step Step) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[actorID]
	return ok && st.Step == step
}

// Pending reports whether the actor has any pending step.
func (s *Store) Pending(actorID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.states[actorID]
	return ok
}
