package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"marked permanent", Permanent(errors.New("bad payload")), ClassPermanent},
		{"wrapped permanent", fmt.Errorf("stage: %w", Permanent(errors.New("x"))), ClassPermanent},
		{"blocked", NewBlockedError("https://example.org/", "robots"), ClassPermanent},
		{"malformed output", fmt.Errorf("extract: %w", ErrMalformedOutput), ClassPermanent},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"rate limited", &StatusError{StatusCode: 429, Err: errors.New("slow down")}, ClassTransient},
		{"server error", &StatusError{StatusCode: 502, Err: errors.New("bad gateway")}, ClassTransient},
		{"client error", &StatusError{StatusCode: 404, Err: errors.New("missing")}, ClassPermanent},
		{"unknown", errors.New("connection reset"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
