package executor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelink/pkg/exchange"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	configYAML := `
risk:
  max_position_size: 0.5
  max_leverage: 10
  max_daily_loss_pct: 5
  max_drawdown_pct: 20
  max_concurrent_positions: 3
  risk_score: 6
overrides:
  ETH/USDC:USDC:
    max_position_size: 4
    emergency_stop: true
journal_dir: ${EXEC_JOURNAL_DIR}/audit
stop_loss_kind: " STOP_LIMIT "
`
	path := filepath.Join(dir, "executor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	t.Setenv("EXEC_JOURNAL_DIR", "/var/lib/tradelink")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tradelink/audit", cfg.JournalDir)
	assert.Equal(t, exchange.OrderStopLimit, cfg.StopLossKind)
	assert.Equal(t, exchange.OrderLimit, cfg.TakeProfitKind, "take profit default")

	base := cfg.Policy()
	assert.True(t, base.MaxPositionSize.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 10, base.MaxLeverage)
	assert.Equal(t, 6, base.RiskScore)

	eth := cfg.PolicyFor("ETH/USDC:USDC")
	assert.True(t, eth.MaxPositionSize.Equal(decimal.NewFromInt(4)))
	assert.True(t, eth.EmergencyStop)
	assert.Equal(t, 10, eth.MaxLeverage, "override keeps base fields")
	assert.Equal(t, 3, eth.MaxConcurrentPositions)
	assert.False(t, cfg.PolicyFor("BTC/USDC:USDC").EmergencyStop, "override leaked to another symbol")
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStop, cfg.StopLossKind)
	assert.Equal(t, exchange.OrderLimit, cfg.TakeProfitKind)

	p := cfg.Policy()
	assert.Zero(t, p.MaxLeverage, "empty config disables limits")
	assert.True(t, p.MaxPositionSize.IsZero())
}

func TestValidateFails(t *testing.T) {
	cases := map[string]string{
		"stop_loss_kind":   "stop_loss_kind: market\n",
		"take_profit_kind": "take_profit_kind: stop\n",
		"max drawdown":     "risk:\n  max_drawdown_pct: 150\n",
		"risk score":       "risk:\n  risk_score: 12\n",
		"override ETH":     "overrides:\n  ETH:\n    max_leverage: -3\n",
	}
	for want, body := range cases {
		t.Run(want, func(t *testing.T) {
			_, err := LoadConfigFromReader(strings.NewReader(body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), want)
		})
	}
}
