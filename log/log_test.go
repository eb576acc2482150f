package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSetLoggerNilIsNoop(t *testing.T) {
	before := L()
	SetLogger(nil)
	assert.Same(t, before, L())
}

func TestNewDefaultInstalls(t *testing.T) {
	l, err := NewDefault(true)
	require.NoError(t, err)
	assert.Same(t, l, L())
	Debug("debug line", zap.Int("n", 1))
	Info("info line")
	Warn("warn line")
	Error("error line")
	Sync()
	SetLogger(zap.NewNop())
}
