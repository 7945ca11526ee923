package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ValidationError covers caller-correctable input problems that need no
// tree traversal to detect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// GoalExceededError rejects progress beyond the goal. Never clamped.
type GoalExceededError struct {
	Goal      int
	Attempted int
}

func (e GoalExceededError) Error() string {
	return fmt.Sprintf("progress %d exceeds goal %d", e.Attempted, e.Goal)
}

// NegativeProgressError rejects progress below zero.
type NegativeProgressError struct {
	Attempted int
}

func (e NegativeProgressError) Error() string {
	return fmt.Sprintf("progress cannot go below zero (attempted %d)", e.Attempted)
}

// GoalBelowCurrentError rejects shrinking a goal under recorded progress.
type GoalBelowCurrentError struct {
	Goal    int
	Current int
}

func (e GoalBelowCurrentError) Error() string {
	return fmt.Sprintf("goal %d is below current progress %d", e.Goal, e.Current)
}

// StoreUnavailableError wraps timeouts and dead connections. It is the
// only class a caller may retry; the engine itself never does.
type StoreUnavailableError struct {
	Err error
}

func (e StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e StoreUnavailableError) Unwrap() error { return e.Err }

// storeErr classifies infrastructure failures; business and not-found
// errors pass through untouched.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrConnDone) {
		return StoreUnavailableError{Err: err}
	}
	return err
}
