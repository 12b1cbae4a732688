package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEveryCodeHasStatusAndMessage(t *testing.T) {
	for _, code := range AllCodes {
		assert.NotZero(t, code.HTTPStatus(), code)
		assert.NotEmpty(t, code.Message(), code)
	}
	assert.Equal(t, "Erro desconhecido", CodeUnknown.Message())
	assert.Equal(t, http.StatusInternalServerError, Code("made_up").HTTPStatus())
}

func TestCodeOfUnwrapsWrappedAppError(t *testing.T) {
	base := New(CodeUserNotFound, errors.New("no profile for a@b.c"))
	wrapped := fmt.Errorf("reconcile: %w", base)

	assert.Equal(t, CodeUserNotFound, CodeOf(wrapped))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))
}

func TestAppErrorDetails(t *testing.T) {
	err := New(CodeProjectsLimitExceeded, nil).With("current_count", 5).With("new_limit", 3)

	assert.Equal(t, "projects_limit_exceeded", err.Error())
	assert.Equal(t, 5, err.Details["current_count"])
	assert.Equal(t, 3, err.Details["new_limit"])
}
