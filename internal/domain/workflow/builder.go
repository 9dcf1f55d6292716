package workflow

import (
	"context"
	"fmt"
	"slices"
)

// GuardFunc evaluates whether a transition may be taken
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder builds configured state machines. One builder can
// produce any number of independent machines.
type StateMachineBuilder[S State, T Trigger] interface {
	// Configure returns the configuration for a state
	Configure(state S) StateConfiguration[S, T]

	// Build creates a machine starting in initialState
	Build(initialState S) StateMachine[S, T]
}

// StateConfiguration configures the transitions leaving one state
type StateConfiguration[S State, T Trigger] interface {
	// Permit allows trigger to move to toState
	Permit(trigger T, toState S) StateConfiguration[S, T]

	// PermitIf allows trigger to move to toState when guard passes
	PermitIf(trigger T, toState S, guard GuardFunc) StateConfiguration[S, T]
}

type transition[S State] struct {
	toState S
	guard   GuardFunc
}

type stateConfig[S State, T Trigger] struct {
	transitions map[T][]transition[S]
}

type stateMachineBuilder[S State, T Trigger] struct {
	configurations map[S]*stateConfig[S, T]
}

type stateMachine[S State, T Trigger] struct {
	currentState   S
	configurations map[S]*stateConfig[S, T]
}

// NewBuilder creates a new state machine builder
func NewBuilder[S State, T Trigger]() StateMachineBuilder[S, T] {
	return &stateMachineBuilder[S, T]{
		configurations: make(map[S]*stateConfig[S, T]),
	}
}

func (b *stateMachineBuilder[S, T]) Configure(state S) StateConfiguration[S, T] {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig[S, T]{transitions: make(map[T][]transition[S])}
		b.configurations[state] = config
	}
	return config
}

func (b *stateMachineBuilder[S, T]) Build(initialState S) StateMachine[S, T] {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	// machines must not observe later Configure calls
	configs := make(map[S]*stateConfig[S, T], len(b.configurations))
	for state, config := range b.configurations {
		transitions := make(map[T][]transition[S], len(config.transitions))
		for trigger, ts := range config.transitions {
			transitions[trigger] = slices.Clone(ts)
		}
		configs[state] = &stateConfig[S, T]{transitions: transitions}
	}

	return &stateMachine[S, T]{
		currentState:   initialState,
		configurations: configs,
	}
}

func (c *stateConfig[S, T]) Permit(trigger T, toState S) StateConfiguration[S, T] {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig[S, T]) PermitIf(trigger T, toState S, guard GuardFunc) StateConfiguration[S, T] {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[trigger] = append(c.transitions[trigger], transition[S]{toState: toState, guard: guard})
	return c
}

func (m *stateMachine[S, T]) State() S {
	return m.currentState
}

func (m *stateMachine[S, T]) CanFire(trigger T) bool {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return false
	}
	return len(config.transitions[trigger]) > 0
}

func (m *stateMachine[S, T]) Fire(ctx context.Context, trigger T) error {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return fmt.Errorf("%w: cannot fire %s from %s (no configuration)", ErrInvalidTransition, trigger, m.currentState)
	}

	transitions := config.transitions[trigger]
	if len(transitions) == 0 {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.currentState)
	}

	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.currentState = t.toState
			return nil
		}
	}

	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.currentState)
}

func (m *stateMachine[S, T]) PermittedTriggers() []T {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []T{}
	}

	triggers := make([]T, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}
	slices.Sort(triggers)
	return triggers
}
