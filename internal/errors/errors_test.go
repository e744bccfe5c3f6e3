package errors

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(NewProcessError("restart", "trend_bot", "", cause), "reconcile")

	assert.True(t, Is(err, ErrProcessManager))
	assert.True(t, Is(err, cause))

	var perr *ProcessError
	assert.True(t, As(err, &perr))
	assert.Equal(t, "trend_bot", perr.Name)
}

func TestConfigErrorUnwraps(t *testing.T) {
	err := NewConfigError("read", "bot_config.json", fs.ErrNotExist)
	assert.True(t, Is(err, fs.ErrNotExist))
	assert.Contains(t, err.Error(), "bot_config.json")
}

func TestValidationErrorIsConfigInvalid(t *testing.T) {
	err := Wrapf(NewValidationError("allocation", 1.5, "must be in [0,1]"), "bot %s", "wheel_bot")
	assert.True(t, Is(err, ErrConfigInvalid))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "x"))
	assert.Nil(t, Wrapf(nil, "x %d", 1))
}
