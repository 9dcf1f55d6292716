package workflow

import (
	"context"
	"errors"
	"testing"
)

type lightState string

const (
	lightRed    lightState = "RED"
	lightGreen  lightState = "GREEN"
	lightYellow lightState = "YELLOW"
	lightOff    lightState = "OFF"
)

func (s lightState) IsValid() bool {
	switch s {
	case lightRed, lightGreen, lightYellow, lightOff:
		return true
	}
	return false
}

type lightTrigger string

const (
	triggerGo    lightTrigger = "GO"
	triggerSlow  lightTrigger = "SLOW"
	triggerStop  lightTrigger = "STOP"
	triggerPower lightTrigger = "POWER"
)

func buildLight(initial lightState, powered *bool) StateMachine[lightState, lightTrigger] {
	b := NewBuilder[lightState, lightTrigger]()
	b.Configure(lightRed).
		PermitIf(triggerGo, lightGreen, func(ctx context.Context) bool { return *powered }).
		Permit(triggerPower, lightOff)
	b.Configure(lightGreen).
		Permit(triggerSlow, lightYellow).
		Permit(triggerPower, lightOff)
	b.Configure(lightYellow).
		Permit(triggerStop, lightRed)
	return b.Build(initial)
}

func TestStateMachine_Fire(t *testing.T) {
	powered := true
	tests := []struct {
		name    string
		initial lightState
		trigger lightTrigger
		powered bool
		want    lightState
		wantErr error
	}{
		{"guarded transition passes", lightRed, triggerGo, true, lightGreen, nil},
		{"guarded transition blocked", lightRed, triggerGo, false, lightRed, ErrGuardFailed},
		{"plain transition", lightGreen, triggerSlow, true, lightYellow, nil},
		{"unconfigured trigger", lightYellow, triggerGo, true, lightYellow, ErrInvalidTransition},
		{"state with no configuration", lightOff, triggerGo, true, lightOff, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			powered = tt.powered
			m := buildLight(tt.initial, &powered)

			err := m.Fire(context.Background(), tt.trigger)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Fire() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Fire() unexpected error: %v", err)
			}

			if got := m.State(); got != tt.want {
				t.Errorf("State() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStateMachine_CanFireAndPermitted(t *testing.T) {
	powered := false
	m := buildLight(lightRed, &powered)

	if !m.CanFire(triggerGo) {
		t.Error("CanFire(GO) = false, want true even when the guard would fail")
	}
	if m.CanFire(triggerStop) {
		t.Error("CanFire(STOP) = true, want false")
	}

	got := m.PermittedTriggers()
	want := []lightTrigger{triggerGo, triggerPower}
	if len(got) != len(want) {
		t.Fatalf("PermittedTriggers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PermittedTriggers()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	off := buildLight(lightOff, &powered)
	if len(off.PermittedTriggers()) != 0 {
		t.Error("terminal state should have no permitted triggers")
	}
}

func TestBuilder_MachinesAreIndependent(t *testing.T) {
	b := NewBuilder[lightState, lightTrigger]()
	b.Configure(lightGreen).Permit(triggerSlow, lightYellow)

	first := b.Build(lightGreen)
	second := b.Build(lightGreen)

	if err := first.Fire(context.Background(), triggerSlow); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if second.State() != lightGreen {
		t.Errorf("second machine moved to %s", second.State())
	}

	// configuring after Build must not leak into existing machines
	b.Configure(lightGreen).Permit(triggerPower, lightOff)
	if second.CanFire(triggerPower) {
		t.Error("existing machine saw a later Configure call")
	}
}

func TestBuilder_PanicsOnInvalidState(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Configure() with an invalid state did not panic")
		}
	}()
	NewBuilder[lightState, lightTrigger]().Configure(lightState("BLUE"))
}
