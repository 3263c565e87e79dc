package stt

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		err  error
		want Status
	}{
		{"text", "hello", nil, StatusOK},
		{"empty", "", nil, StatusEmpty},
		{"timeout", "", fmt.Errorf("wyoming: %w", ErrTimeout), StatusTimeout},
		{"closed", "", fmt.Errorf("wyoming: %w", ErrNoResult), StatusClosed},
		{"cancelled", "", context.Canceled, StatusCancelled},
		{"other", "", errors.New("connection refused"), StatusError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tc.text, tc.err); got != tc.want {
				t.Errorf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}
