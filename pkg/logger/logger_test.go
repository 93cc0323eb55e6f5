package logger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "debug", Format: "console", ServiceName: "lottery-test", ChainID: 1, Role: "main"}))
	assert.NotNil(t, L())
	assert.True(t, L().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init(&Config{Level: "warn", Format: "json", ServiceName: "lottery-test"}))
	assert.False(t, L().Core().Enabled(zapcore.InfoLevel))

	require.NoError(t, Init(&Config{Level: "not-a-level"}))
	assert.True(t, L().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, L().Core().Enabled(zapcore.DebugLevel))
}

func TestFields(t *testing.T) {
	assert.Equal(t, "round_id", RoundID(3).Key)
	assert.Equal(t, "player", Player("0xabc").Key)
	assert.Equal(t, "0", BigInt("amount", nil).String)
	assert.Equal(t, "42", BigInt("amount", big.NewInt(42)).String)
}
