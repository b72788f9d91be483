package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arborvale/valicore/pkg/valcore"
)

func TestExitCodeForResultValid(t *testing.T) {
	r := &valcore.ValidationResult{State: valcore.StateCompleted, IsValid: true}
	assert.Equal(t, exitValid, exitCodeForResult(r))
}

func TestExitCodeForResultInvalid(t *testing.T) {
	r := &valcore.ValidationResult{State: valcore.StateCompleted, IsValid: false}
	assert.Equal(t, exitInvalid, exitCodeForResult(r))
}

func TestExitCodeForResultFailedMapsIssueCode(t *testing.T) {
	r := &valcore.ValidationResult{
		State:  valcore.StateFailed,
		Issues: []valcore.Issue{{Code: string(valcore.ErrKindOverloaded)}},
	}
	assert.Equal(t, exitRejected, exitCodeForResult(r))
}

func TestExitCodeForResultFailedWithoutIssuesIsInternal(t *testing.T) {
	r := &valcore.ValidationResult{State: valcore.StateFailed}
	assert.Equal(t, exitInternal, exitCodeForResult(r))
}

func TestExitCodeForErrorUnsupportedLanguage(t *testing.T) {
	err := valcore.NewError(valcore.ErrKindUnsupportedLanguage, "nope")
	assert.Equal(t, exitUnsupportedLanguage, exitCodeForError(err))
}

func TestExitCodeForErrorUnknownIsInternal(t *testing.T) {
	assert.Equal(t, exitInternal, exitCodeForError(assertError{}))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
