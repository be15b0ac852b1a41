package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad amount %q", "x")))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("wrapped: %w", NotFound("account"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestSentinels(t *testing.T) {
	assert.ErrorIs(t, InsufficientFunds(), ErrInsufficientFunds)
	assert.ErrorIs(t, NotFound("Account not found"), ErrNotFound)
	assert.ErrorIs(t, Duplicate("account number taken"), ErrDuplicate)
	assert.NotErrorIs(t, NotFound("x"), ErrInsufficientFunds)
}

func TestRetriable(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("commit", cause)

	assert.True(t, IsRetriable(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRetriable(InsufficientFunds()))
	assert.False(t, IsRetriable(cause))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestOverloaded(t *testing.T) {
	cause := errors.New("queue full")
	err := Overloaded(cause)

	assert.True(t, IsOverloaded(err))
	assert.True(t, IsRetriable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.False(t, IsOverloaded(Internal("other", cause)))
}
