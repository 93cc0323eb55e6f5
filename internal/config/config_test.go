package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExpandEnvVars 测试环境变量展开
func TestExpandEnvVars(t *testing.T) {
	t.Run("simple variable", func(t *testing.T) {
		t.Setenv("LOTTERY_TEST_VAR", "hello")
		assert.Equal(t, "value is hello", expandEnvVars("value is ${LOTTERY_TEST_VAR}"))
	})

	t.Run("variable with default", func(t *testing.T) {
		assert.Equal(t, "value is default_value", expandEnvVars("value is ${LOTTERY_NOT_EXISTS:default_value}"))
	})

	t.Run("variable with default overridden", func(t *testing.T) {
		t.Setenv("LOTTERY_MY_VAR", "actual_value")
		assert.Equal(t, "value is actual_value", expandEnvVars("value is ${LOTTERY_MY_VAR:default_value}"))
	})

	t.Run("multiple variables", func(t *testing.T) {
		t.Setenv("LOTTERY_VAR1", "first")
		t.Setenv("LOTTERY_VAR2", "second")
		assert.Equal(t, "first and second", expandEnvVars("${LOTTERY_VAR1} and ${LOTTERY_VAR2}"))
	})

	t.Run("default with colon", func(t *testing.T) {
		assert.Equal(t, "url http://x:1", expandEnvVars("url ${LOTTERY_NOT_EXISTS:http://x:1}"))
	})

	t.Run("unterminated", func(t *testing.T) {
		assert.Equal(t, "value ${BROKEN", expandEnvVars("value ${BROKEN"))
	})
}

// TestLoad 测试加载配置文件
func TestLoad(t *testing.T) {
	t.Setenv("LOTTERY_ADMIN", "0x00000000000000000000000000000000000000aa")
	content := `
service:
  name: lottery-sat
chain:
  role: satellite
  main_chain_id: 1
  peers:
    - chain_id: 1
      address: "0x0000000000000000000000000000000000000001"
round:
  capacity: 4
admin:
  principal: ${LOTTERY_ADMIN}
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lottery-sat", cfg.Service.Name)
	assert.Equal(t, RoleSatellite, cfg.Chain.Role)
	assert.False(t, cfg.Chain.IsMain())
	assert.Len(t, cfg.Chain.Peers, 1)
	assert.Equal(t, 4, cfg.Round.Capacity)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", cfg.Admin.Principal)

	// 默认值
	assert.Equal(t, int64(2500), cfg.Pricing.BaselineSlippageBps)
	assert.Equal(t, int64(2000), cfg.Pricing.SafetyBufferBps)
	assert.Equal(t, 50, cfg.Round.WinnersSharePct)
	assert.Equal(t, RejectPolicyRefund, cfg.Chain.RejectPolicy)
	assert.Equal(t, "100000000000000000000", Amount(cfg.Round.EntryFee).String())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/etc/lottery.yaml", ResolvePath("/etc/lottery.yaml"))

	t.Setenv("CONFIG_PATH", "/tmp/from-env.yaml")
	assert.Equal(t, "/tmp/from-env.yaml", ResolvePath(""))

	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, "config/config.yaml", ResolvePath(""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "shares over 100",
			yaml:    "round:\n  winners_share_pct: 60\n  dev_share_pct: 30\n  funding_share_pct: 20\n",
			wantErr: "shares sum",
		},
		{
			name:    "slippage bounds inverted",
			yaml:    "pricing:\n  min_slippage_bps: 6000\n  max_slippage_bps: 1000\n  baseline_slippage_bps: 2000\n",
			wantErr: "exceeds max_slippage_bps",
		},
		{
			name:    "unknown role",
			yaml:    "chain:\n  role: relay\n",
			wantErr: "unknown chain role",
		},
		{
			name:    "satellite without main chain",
			yaml:    "chain:\n  role: satellite\n",
			wantErr: "requires main_chain_id",
		},
		{
			name:    "bad amount",
			yaml:    "round:\n  entry_fee: 1e18\n",
			wantErr: "round.entry_fee",
		},
		{
			name:    "bad dev address",
			yaml:    "round:\n  dev_address: 0x123\n",
			wantErr: "round.dev_address",
		},
		{
			name:    "bad funding address",
			yaml:    "round:\n  funding_addresses: [\"not-an-address\"]\n",
			wantErr: "round.funding_addresses",
		},
		{
			name: "valid",
			yaml: "round:\n  capacity: 3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRoundConfig_UnpaidShares(t *testing.T) {
	r := RoundConfig{DevSharePct: 10, FundingSharePct: 30, BurnSharePct: 10}
	assert.Equal(t, []string{"dev", "funding", "burn"}, r.UnpaidShares())

	r.DevAddress = "0x000000000000000000000000000000000000dEaD"
	r.FundingAddresses = []string{"0x000000000000000000000000000000000000bEEF"}
	r.BurnSharePct = 0
	assert.Empty(t, r.UnpaidShares())
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	_, err = ParseAmount("-1")
	assert.Error(t, err)
	_, err = ParseAmount("abc")
	assert.Error(t, err)

	assert.Equal(t, int64(0), Amount("abc").Int64())
}
