package orcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NoWrappedCause(t *testing.T) {
	err := New(CodeToolExecFailed, "boom")
	assert.Equal(t, "TOOL_EXEC_FAILED: boom", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrap_PreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(CodeExecutionRequestFailed, "request failed", cause)
	assert.Contains(t, err.Error(), "EXECUTION_REQUEST_FAILED")
	assert.Contains(t, err.Error(), "underlying")
	assert.Equal(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf_ExtractsFromWrappedError(t *testing.T) {
	inner := New(CodeAgentNoProgress, "stalled")
	outer := errors.New("wrapped: " + inner.Error())
	_, ok := CodeOf(outer)
	assert.False(t, ok, "a plain errors.New should not unwrap to a Code")

	code, ok := CodeOf(inner)
	require.True(t, ok)
	assert.Equal(t, CodeAgentNoProgress, code)

	doubleWrapped := Wrap(CodeExecutionRequestFailed, "outer", inner)
	code, ok = CodeOf(doubleWrapped)
	require.True(t, ok)
	assert.Equal(t, CodeExecutionRequestFailed, code, "CodeOf reports the outermost Error's code")
}

func TestClassOf_KnownAndDefaultedCodes(t *testing.T) {
	assert.Equal(t, ClassValidation, ClassOf(CodeToolArgsInvalid))
	assert.Equal(t, ClassTransport, ClassOf(CodeOffscreenRequestTimeout))
	assert.Equal(t, ClassModelChain, ClassOf(CodeToolStateMismatchRecovery))
	assert.Equal(t, ClassLoopGuard, ClassOf(CodeAgentLoopGuardStop))
	assert.Equal(t, ClassScheduling, ClassOf(CodeLeaseExpired))
	assert.Equal(t, ClassCancellation, ClassOf(CodeAborted))

	assert.Equal(t, ClassScheduling, ClassOf(Code("SOME_UNLISTED_CODE")), "unclassified codes default to scheduling")
}
