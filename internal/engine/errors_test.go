package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError_Error(t *testing.T) {
	err := newRuntimeError(ErrCodePersist, "resetguard", "update not persisted", ErrPersistFailed)
	assert.Equal(t,
		"PERSIST: update not persisted (component=resetguard): reset guard persist failed",
		err.Error())
}

func TestRuntimeError_UnwrapAndHelpers(t *testing.T) {
	base := newRuntimeError(ErrCodeResetRefused, "resetguard", "refused", ErrResetLimitReached)
	wrapped := fmt.Errorf("command: %w", base)

	assert.True(t, HasCode(wrapped, ErrCodeResetRefused))
	assert.False(t, HasCode(wrapped, ErrCodePersist))
	assert.True(t, IsResetRefused(wrapped))
	assert.True(t, errors.Is(wrapped, ErrResetLimitReached))
	assert.False(t, IsInvalidConfig(wrapped))

	assert.True(t, IsResetRefused(ErrResetLimitReached))
	assert.True(t, IsInvalidConfig(fmt.Errorf("x: %w", ErrInvalidCalibration)))
	assert.False(t, HasCode(errors.New("plain"), ErrCodePersist))
}

func TestReportID_StringAndParse(t *testing.T) {
	for id := ReportInit; id <= ReportWatchdogServiceFailed; id++ {
		name := id.String()
		got, ok := ParseReportID(name)
		assert.True(t, ok, name)
		assert.Equal(t, id, got)
	}
	_, ok := ParseReportID("no_such_report")
	assert.False(t, ok)
	assert.Equal(t, "report(999)", ReportID(999).String())
}
