package pending

import (
	"context"
	"sync"
	"time"
)

// ExpiryHandler is invoked (outside the store lock) for every action the
// sweep expires. The action is a copy in StateExpired.
type ExpiryHandler func(action *Action)

type key struct {
	operatorID string
	kind       Kind
}

// Store holds the awaiting actions for all operators.
type Store struct {
	mu            sync.Mutex
	actions       map[key]*Action
	expiryHandler map[Kind]ExpiryHandler

	// now is the clock source, overridable in tests.
	now func() time.Time
}

// NewStore creates an empty action store.
func NewStore() *Store {
	return &Store{
		actions:       make(map[key]*Action),
		expiryHandler: make(map[Kind]ExpiryHandler),
		now:           time.Now,
	}
}

// OnExpire registers a handler for actions of the given kind that the
// sweep expires. Registering a second handler for a kind replaces the
// first. Must be called before Run.
func (s *Store) OnExpire(kind Kind, handler ExpiryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiryHandler[kind] = handler
}

// Create records a new awaiting action for (operatorID, kind).
//
// If the operator already has an awaiting action of the same kind it is
// cancelled and replaced. A zero ttl means the action never expires on
// its own (it still cancels on replacement or explicit Cancel).
//
// Returns a copy of the recorded action.
func (s *Store) Create(operatorID string, kind Kind, deviceIDs []string, payload map[string]any, ttl time.Duration) (*Action, error) {
	if !validKind(kind) {
		return nil, ErrInvalidKind
	}

	now := s.now()
	action := &Action{
		OperatorID: operatorID,
		Kind:       kind,
		DeviceIDs:  deviceIDs,
		Payload:    payload,
		State:      StateAwaiting,
		CreatedAt:  now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		action.ExpiresAt = &expires
	}

	k := key{operatorID: operatorID, kind: kind}
	s.mu.Lock()
	if prior, ok := s.actions[k]; ok {
		prior.State = StateCancelled
	}
	s.actions[k] = action
	s.mu.Unlock()

	return action.DeepCopy(), nil
}

// Get returns a copy of the operator's awaiting action of the given
// kind, or ErrNotPending.
func (s *Store) Get(operatorID string, kind Kind) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[key{operatorID: operatorID, kind: kind}]
	if !ok {
		return nil, ErrNotPending
	}
	return action.DeepCopy(), nil
}

// GetAny returns a copy of the operator's awaiting action regardless of
// kind, or ErrNotPending. When the operator somehow holds several, the
// most recently created wins.
func (s *Store) GetAny(operatorID string) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *Action
	for k, action := range s.actions {
		if k.operatorID != operatorID {
			continue
		}
		if newest == nil || action.CreatedAt.After(newest.CreatedAt) {
			newest = action
		}
	}
	if newest == nil {
		return nil, ErrNotPending
	}
	return newest.DeepCopy(), nil
}

// Confirm transitions the operator's awaiting action of the given kind
// to confirmed and removes it from the store. Returns a copy of the
// confirmed action, or ErrNotPending when nothing of that kind awaits.
func (s *Store) Confirm(operatorID string, kind Kind) (*Action, error) {
	return s.resolve(operatorID, kind, StateConfirmed)
}

// Cancel transitions the operator's awaiting action of the given kind
// to cancelled and removes it from the store.
func (s *Store) Cancel(operatorID string, kind Kind) (*Action, error) {
	return s.resolve(operatorID, kind, StateCancelled)
}

// CancelAll cancels every awaiting action the operator holds and returns
// copies of the cancelled actions. An operator with nothing pending gets
// an empty slice, not an error.
func (s *Store) CancelAll(operatorID string) []*Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled []*Action
	for k, action := range s.actions {
		if k.operatorID != operatorID {
			continue
		}
		action.State = StateCancelled
		cancelled = append(cancelled, action.DeepCopy())
		delete(s.actions, k)
	}
	return cancelled
}

// resolve performs the single awaiting→terminal transition under the
// store lock. The first caller wins; the action is gone for everyone else.
func (s *Store) resolve(operatorID string, kind Kind, terminal State) (*Action, error) {
	k := key{operatorID: operatorID, kind: kind}

	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[k]
	if !ok {
		return nil, ErrNotPending
	}
	action.State = terminal
	delete(s.actions, k)
	return action.DeepCopy(), nil
}

// Sweep expires every awaiting action whose deadline has passed and
// invokes the registered expiry handlers. Returns the number expired.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	var expired []*Action
	for k, action := range s.actions {
		if action.ExpiresAt == nil || action.ExpiresAt.After(now) {
			continue
		}
		action.State = StateExpired
		expired = append(expired, action.DeepCopy())
		delete(s.actions, k)
	}
	handlers := make(map[Kind]ExpiryHandler, len(s.expiryHandler))
	for kind, h := range s.expiryHandler {
		handlers[kind] = h
	}
	s.mu.Unlock()

	// Handlers run outside the lock; they typically send chat messages.
	for _, action := range expired {
		if h, ok := handlers[action.Kind]; ok && h != nil {
			h(action)
		}
	}
	return len(expired)
}

// Run sweeps at the given interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Count returns the number of awaiting actions across all operators.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

func validKind(kind Kind) bool {
	for _, k := range AllKinds {
		if k == kind {
			return true
		}
	}
	return false
}
