package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorError(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := NotFound("run not found")
		assert.Equal(t, "run not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("row missing")
		err := Wrap(cause, ErrCodeNotFound, "run not found")
		assert.Equal(t, "run not found: row missing", err.Error())
	})
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(cause, ErrCodeInternal, "wrapped")
	assert.ErrorIs(t, err, cause)
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code ErrorCode
	}{
		{"NotFound", NotFound("x"), ErrCodeNotFound},
		{"NotFoundf", NotFoundf("run %s", "abc"), ErrCodeNotFound},
		{"Conflict", Conflict("x"), ErrCodeConflict},
		{"Conflictf", Conflictf("run %s busy", "abc"), ErrCodeConflict},
		{"Validation", Validation("x"), ErrCodeValidation},
		{"Validationf", Validationf("bad %s", "field"), ErrCodeValidation},
		{"ForeignKey", ForeignKey("x"), ErrCodeForeignKey},
		{"Internal", Internal("x"), ErrCodeInternal},
		{"Internalf", Internalf("boom %d", 1), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("prospects", "too many prospects")
	assert.Equal(t, ErrCodeValidation, err.Code)
	assert.Equal(t, "prospects", err.Field)
}

func TestWrap(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrCodeInternal, "x"))
		assert.Nil(t, Wrapf(nil, ErrCodeInternal, "x %d", 1))
	})

	t.Run("formats message", func(t *testing.T) {
		cause := errors.New("boom")
		err := Wrapf(cause, ErrCodeInternal, "step %d failed", 3)
		assert.Equal(t, "step 3 failed: boom", err.Error())
	})
}

func TestCodePredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"IsNotFound", NotFound("x"), IsNotFound},
		{"IsConflict", Conflict("x"), IsConflict},
		{"IsValidation", Validation("x"), IsValidation},
		{"IsForeignKey", ForeignKey("x"), IsForeignKey},
		{"IsInternal", Internal("x"), IsInternal},
		{"IsTimeout", &AppError{Code: ErrCodeTimeout}, IsTimeout},
		{"IsCanceled", &AppError{Code: ErrCodeCanceled}, IsCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(errors.New("plain")))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestCodePredicatesUnwrapChain(t *testing.T) {
	inner := NotFound("run not found")
	wrapped := fmt.Errorf("service: %w", inner)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeConflict, GetCode(Conflict("x")))
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetCode(nil))
}

func TestGetField(t *testing.T) {
	assert.Equal(t, "owner_id", GetField(ValidationField("owner_id", "required")))
	assert.Equal(t, "", GetField(Validation("no field")))
	assert.Equal(t, "", GetField(errors.New("plain")))
}
