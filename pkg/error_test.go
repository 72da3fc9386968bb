package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestCondition_String(t *testing.T) {
	tests := []struct {
		cond Condition
		want string
	}{
		{ConditionNone, "none"},
		{ConditionSignalTimeout, "signal-timeout"},
		{ConditionStreamError, "stream-error"},
		{ConditionEmptyStream, "empty-stream"},
		{ConditionUnknownCommand, "unknown-command"},
		{ConditionDeviceUnavailable, "device-unavailable"},
		{Condition(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.cond.String(); got != tt.want {
				t.Errorf("Condition.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Condition
	}{
		{"nil", nil, ConditionNone},
		{"timeout", ErrTimeout, ConditionSignalTimeout},
		{"wrapped timeout", fmt.Errorf("receive: %w", ErrTimeout), ConditionSignalTimeout},
		{"empty", ErrEmptyStream, ConditionEmptyStream},
		{"unknown", ErrUnknownCommand, ConditionUnknownCommand},
		{"unavailable", ErrDeviceUnavailable, ConditionDeviceUnavailable},
		{"no device", ErrNoDevice, ConditionDeviceUnavailable},
		{"attention", ErrAttention, ConditionStreamError},
		{"other", errors.New("boom"), ConditionStreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConditionOf(tt.err); got != tt.want {
				t.Errorf("ConditionOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCondition_IsFailure(t *testing.T) {
	failures := map[Condition]bool{
		ConditionSignalTimeout: true,
		ConditionStreamError:   true,
	}
	for c := ConditionNone; c <= ConditionDeviceUnavailable; c++ {
		if got := c.IsFailure(); got != failures[c] {
			t.Errorf("%v.IsFailure() = %v, want %v", c, got, failures[c])
		}
	}
}

func TestErrors_Distinct(t *testing.T) {
	errs := []error{
		ErrTimeout, ErrEmptyStream, ErrUnknownCommand,
		ErrDeviceUnavailable, ErrAttention, ErrNoDevice, ErrNilDevice,
		ErrInvalidAddress, ErrAddressInUse, ErrNotRegistered, ErrInvalidChannel,
		ErrNotSupported, ErrShuttingDown, ErrAlreadyRunning, ErrNotRunning,
		ErrInvalidParameter, ErrNotFound, ErrReadOnly,
	}
	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v matches %v", a, b)
			}
		}
	}
}
