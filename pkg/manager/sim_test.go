package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/timex"

	"tradelink/pkg/exchange"
	_ "tradelink/pkg/exchange/sim"
	"tradelink/pkg/manager"
)

func TestSimConnectionLifecycle(t *testing.T) {
	cfg := &exchange.Config{Credentials: map[string]*exchange.CredentialConfig{
		"paper-1": {Venue: "sim", DefaultSegment: exchange.SegmentFutures},
		"paper-2": {Venue: "sim"},
	}}
	require.NoError(t, cfg.Validate())

	m, err := manager.New(manager.ConfigFactory(cfg),
		manager.WithTickerFactory(func(time.Duration) timex.Ticker { return timex.NewFakeTicker() }))
	require.NoError(t, err)
	ctx := context.Background()
	defer func() { assert.NoError(t, m.Shutdown(ctx)) }()

	for _, id := range cfg.IDs() {
		cred, err := cfg.Credential(id)
		require.NoError(t, err)
		res := m.Initialize(ctx, "sim", cred)
		require.NoError(t, res.Err)
		assert.True(t, res.Record.Capabilities.Supports(exchange.SegmentFutures))
	}

	client, ok := m.GetExchangeForSymbol(ctx, "BTC/USDT:USDT", exchange.SegmentFutures)
	require.True(t, ok)
	assert.Equal(t, "paper-1", client.CredentialID())
	assert.True(t, client.IsConnected())

	_, ok = m.GetExchangeForSymbol(ctx, "NOPE/USDT:USDT", exchange.SegmentFutures)
	assert.False(t, ok)

	require.NoError(t, m.Disconnect(ctx, "sim", "paper-1"))
	assert.False(t, client.IsConnected())
	client, err = m.GetExchange("sim", "")
	require.NoError(t, err)
	assert.Equal(t, "paper-2", client.CredentialID())

	rec, ok := m.Record("sim", "paper-1")
	require.True(t, ok)
	assert.Equal(t, manager.StateDisconnected, rec.State)
	assert.False(t, rec.LastConnectedAt.IsZero())
}
