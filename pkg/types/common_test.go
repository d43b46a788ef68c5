package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: device tv is not connected",
		NewError(ErrCodeNotFound, "device tv is not connected").Error())

	wrapped := WrapError(ErrCodeUnavailable, "failed to listen", errors.New("address in use"))
	assert.Equal(t, "UNAVAILABLE: failed to listen: address in use", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "address in use")
}

func TestIsErrCode(t *testing.T) {
	inner := NewError(ErrCodeUnavailable, "listen failed")
	outer := WrapError(ErrCodeInternal, "bootstrap failed", inner)
	foreign := fmt.Errorf("context: %w", outer)

	assert.True(t, IsErrCode(outer, ErrCodeInternal))
	assert.True(t, IsErrCode(outer, ErrCodeUnavailable))
	assert.True(t, IsErrCode(foreign, ErrCodeUnavailable))
	assert.False(t, IsErrCode(outer, ErrCodeTimeout))
	assert.False(t, IsErrCode(errors.New("plain"), ErrCodeInternal))
	assert.False(t, IsErrCode(nil, ErrCodeInternal))

	assert.Equal(t, ErrCodeInternal, GetErrorCode(foreign))
	assert.Equal(t, "", GetErrorCode(errors.New("plain")))
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"typed", NewError(ErrCodeNotFound, "device tv is not connected"), "device tv is not connected"},
		{"wrapped cause hidden", WrapError(ErrCodeUnavailable, "failed to deliver command", errors.New("write: broken pipe")), "failed to deliver command"},
		{"plain", errors.New(" invalid sequence "), "invalid sequence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicMessage(tt.err))
		})
	}
}
