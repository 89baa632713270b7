package guard

import (
	"sync"
	"time"
)

// key identifies a rate-limit / lock entry.
type key struct {
	operatorID string
	command    string
}

// sentMessage is one outbound message recorded for de-duplication.
type sentMessage struct {
	recipient string
	text      string
	sentAt    time.Time
}

// Guard provides anti-flood protection for operator commands:
//
//   - a per-(operator, command) cooldown window
//   - a mutual-exclusion lock preventing concurrent execution of the same
//     command by the same operator
//   - a short-horizon duplicate filter for outbound messages
//
// The caller decides which commands are gated; the guard itself applies the
// same rules to every key it is asked about.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Guard struct {
	cooldown     time.Duration
	dedupWindow  time.Duration
	dedupHistory int

	mu        sync.Mutex
	cooldowns map[key]time.Time // value = cooldown expiry
	running   map[key]bool
	sent      []sentMessage

	now func() time.Time
}

// New creates a Guard.
//
// Parameters:
//   - cooldown: Minimum gap between accepted invocations of the same
//     (operator, command) pair
//   - dedupWindow: Trailing window for outbound duplicate suppression
//   - dedupHistory: Number of recent outbound messages remembered
func New(cooldown, dedupWindow time.Duration, dedupHistory int) *Guard {
	if dedupHistory <= 0 {
		dedupHistory = 32
	}
	return &Guard{
		cooldown:     cooldown,
		dedupWindow:  dedupWindow,
		dedupHistory: dedupHistory,
		cooldowns:    make(map[key]time.Time),
		running:      make(map[key]bool),
		now:          time.Now,
	}
}

// TryAcquire attempts to start execution of a command for an operator.
//
// On success the cooldown window starts immediately and the execution lock
// is held; the caller must call Release exactly once on every exit path
// (use defer right after a successful TryAcquire).
//
// Returns:
//   - nil: Granted
//   - ErrAlreadyRunning: The same operator is already executing this command
//   - *CooldownActiveError (matches ErrCooldownActive): Cooldown window still open
func (g *Guard) TryAcquire(operatorID, command string) error {
	k := key{operatorID, command}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Lock check first: a running command necessarily started inside the
	// cooldown window, and "already running" is the more useful reason.
	if g.running[k] {
		return ErrAlreadyRunning
	}

	if expiry, ok := g.cooldowns[k]; ok {
		if remaining := expiry.Sub(now); remaining > 0 {
			return &CooldownActiveError{Remaining: remaining}
		}
		delete(g.cooldowns, k)
	}

	g.running[k] = true
	g.cooldowns[k] = now.Add(g.cooldown)
	return nil
}

// Release ends execution of a command for an operator.
// Safe to call for a key that is not running (no-op).
func (g *Guard) Release(operatorID, command string) {
	k := key{operatorID, command}

	g.mu.Lock()
	delete(g.running, k)
	g.mu.Unlock()
}

// IsRunning reports whether the (operator, command) lock is currently held.
func (g *Guard) IsRunning(operatorID, command string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[key{operatorID, command}]
}

// ShouldSend reports whether an outbound message should be delivered.
//
// An exact (recipient, text) duplicate within the trailing window is
// suppressed; anything else is recorded and allowed. This is advisory
// de-duplication only: a suppressed duplicate never affects a different
// subsequent message.
func (g *Guard) ShouldSend(recipient, text string) bool {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Drop entries outside the window.
	cutoff := now.Add(-g.dedupWindow)
	kept := g.sent[:0]
	for _, m := range g.sent {
		if m.sentAt.After(cutoff) {
			kept = append(kept, m)
		}
	}
	g.sent = kept

	for _, m := range g.sent {
		if m.recipient == recipient && m.text == text {
			return false
		}
	}

	g.sent = append(g.sent, sentMessage{recipient: recipient, text: text, sentAt: now})
	if len(g.sent) > g.dedupHistory {
		g.sent = g.sent[len(g.sent)-g.dedupHistory:]
	}
	return true
}
