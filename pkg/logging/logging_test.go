package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/revops-ai/tracecompact/pkg/config"
)

func TestNewLevels(t *testing.T) {
	l, err := New(config.LogConfig{Level: "warn", Format: "json"}, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = New(config.LogConfig{Level: "warn", Format: "console"}, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsUnknown(t *testing.T) {
	_, err := New(config.LogConfig{Format: "xml"}, false)
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "loud"}, false)
	assert.Error(t, err)
}
