package workflow

import "context"

// StateMachine tracks a current state and validates transitions
type StateMachine[S State, T Trigger] interface {
	// State returns the current state
	State() S

	// CanFire returns true if the trigger is configured for the current state.
	// Guards are not evaluated.
	CanFire(trigger T) bool

	// Fire executes the trigger, moving to the first target whose guard passes
	Fire(ctx context.Context, trigger T) error

	// PermittedTriggers returns all triggers configured for the current state
	PermittedTriggers() []T
}
