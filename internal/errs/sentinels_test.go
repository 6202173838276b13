package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", fmt.Errorf("drive read: %w", ErrNetwork), true},
		{"deadline", fmt.Errorf("mirror list: %w", context.DeadlineExceeded), true},
		{"auth", fmt.Errorf("drive read: %w", ErrAuth), false},
		{"auth wins over network", fmt.Errorf("%w: %w", ErrNetwork, ErrAuth), false},
		{"malformed", ErrMalformedSnapshot, false},
		{"canceled", context.Canceled, false},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v)=%v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
