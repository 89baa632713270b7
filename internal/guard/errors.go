package guard

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors for the guard package.
var (
	// ErrCooldownActive is returned while the per-(operator, command)
	// cooldown window is still open. The concrete error is a
	// *CooldownActiveError carrying the remaining time.
	ErrCooldownActive = errors.New("guard: cooldown active")

	// ErrAlreadyRunning is returned when the same operator is already
	// executing the same command. Requests are rejected, never queued.
	ErrAlreadyRunning = errors.New("guard: command already running")
)

// CooldownActiveError reports how long until the command may run again.
// It matches ErrCooldownActive under errors.Is.
type CooldownActiveError struct {
	Remaining time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("guard: cooldown active (%s remaining)", e.Remaining.Round(time.Second))
}

// Is makes errors.Is(err, ErrCooldownActive) succeed.
func (e *CooldownActiveError) Is(target error) bool {
	return target == ErrCooldownActive
}
