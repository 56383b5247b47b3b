package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", &TransportError{Op: "batch", Err: context.DeadlineExceeded}, true},
		{"wrapped transport", fmt.Errorf("push: %w", &TransportError{Op: "batch", Err: errors.New("reset")}), true},
		{"server error", &StatusError{Op: "batch", StatusCode: 502}, true},
		{"rate limited", &StatusError{Op: "batch", StatusCode: 429}, true},
		{"bad request", &StatusError{Op: "batch", StatusCode: 400}, false},
		{"plain", errors.New("nope"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestPersistenceWrapping(t *testing.T) {
	assert.NoError(t, Persistence("save", nil))

	base := errors.New("disk full")
	err := Persistence("save baseline", base)
	var pe *PersistenceError
	assert.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, base)
}
