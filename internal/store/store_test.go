package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrorsSurviveWrapping(t *testing.T) {
	sentinels := []error{
		ErrDuplicateTransaction,
		ErrConcurrentModification,
		ErrUserNotFound,
		ErrNotFound,
		ErrInsufficientFunds,
		ErrEmailTaken,
		ErrInvalidTransition,
		ErrDuplicateEvent,
	}

	for _, sentinel := range sentinels {
		wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", sentinel))
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("Expected wrapped error to match %v", sentinel)
		}
		for _, other := range sentinels {
			if other != sentinel && errors.Is(wrapped, other) {
				t.Errorf("Error %v unexpectedly matches %v", sentinel, other)
			}
		}
	}
}
