package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := BookUnavailable("book %s is not available", "x")
	wrapped := fmt.Errorf("create reservation: %w", err)

	assert.True(t, errors.Is(wrapped, ErrBookUnavailable))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, KindBookUnavailable, KindOf(wrapped))
}

func TestInfrastructureUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Infrastructure(cause, "failed to load book")

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindInfrastructure))
	assert.Equal(t, "failed to load book: connection refused", err.Error())
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindInfrastructure, KindOf(errors.New("boom")))
	assert.False(t, IsKind(errors.New("boom"), KindValidation))
}

func TestInvalidIDIsValidation(t *testing.T) {
	err := InvalidID("book", errors.New("invalid UUID length: 3"))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "invalid book id")
}
