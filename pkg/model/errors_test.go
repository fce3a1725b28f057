package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrJobsetNotFound_Wrapping(t *testing.T) {
	wrapped := fmt.Errorf("evalOne: %w", ErrJobsetNotFound)
	if !errors.Is(wrapped, ErrJobsetNotFound) {
		t.Errorf("errors.Is(%v, ErrJobsetNotFound) = false, want true", wrapped)
	}
}

func TestErrNoConnection_Wrapping(t *testing.T) {
	wrapped := fmt.Errorf("sync: %w", ErrNoConnection)
	if !errors.Is(wrapped, ErrNoConnection) {
		t.Errorf("errors.Is(%v, ErrNoConnection) = false, want true", wrapped)
	}
}
