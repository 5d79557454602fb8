package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahekanna/gann-robot/pkg/config"
	"github.com/mahekanna/gann-robot/pkg/db"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		RiskPerTradePct: 0.002,
		MaxPositions:    3,
		DailyLossPct:    0.03,
		WeeklyLossPct:   0.05,
		MonthlyLossPct:  0.10,
	}
}

func testCapital() config.CapitalConfig {
	return config.CapitalConfig{Total: 1_000_000, MaxPerTradePct: 0.5, MaxPerSymbol: 1}
}

func newController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(testRiskConfig(), testCapital(), nil, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return c
}

func TestSizingDividesRiskByStopDistance(t *testing.T) {
	c := newController(t)

	// risk amount = 1,000,000 * 0.002 = 2000; stop distance 5 -> 400 units.
	dec, err := c.SizeAndApprove("SBIN", 680, 675)
	require.NoError(t, err)
	assert.Equal(t, 400, dec.Quantity)
	assert.InDelta(t, 2000, dec.RiskAmount, 1e-9)
	assert.InDelta(t, 400*680.0, dec.Notional, 1e-9)
}

func TestSizingFloorsFractionalQuantity(t *testing.T) {
	c := newController(t)

	// 2000 / 5.3 = 377.35... -> 377.
	dec, err := c.SizeAndApprove("SBIN", 680, 674.7)
	require.NoError(t, err)
	assert.Equal(t, 377, dec.Quantity)
}

func TestSizingRejectsZeroStopDistance(t *testing.T) {
	c := newController(t)

	_, err := c.SizeAndApprove("SBIN", 680, 680)
	assert.ErrorIs(t, err, ErrInvalidStop)
}

func TestMaxPositionsVeto(t *testing.T) {
	c := newController(t)

	for i, sym := range []string{"SBIN", "RELIANCE", "TCS"} {
		dec, err := c.SizeAndApprove(sym, 680, 675)
		require.NoError(t, err)
		c.RegisterOpen(string(rune('a'+i)), sym, 680, dec.Quantity)
	}

	_, err := c.SizeAndApprove("INFY", 680, 675)
	var ve *VetoError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "max open positions")
}

func TestPerSymbolCapVeto(t *testing.T) {
	c := newController(t)

	dec, err := c.SizeAndApprove("SBIN", 680, 675)
	require.NoError(t, err)
	c.RegisterOpen("pos-1", "SBIN", 680, dec.Quantity)

	_, err = c.SizeAndApprove("SBIN", 690, 685)
	var ve *VetoError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "per-symbol")
}

func TestCapitalFractionClipsQuantity(t *testing.T) {
	cfg := testRiskConfig()
	capital := testCapital()
	capital.MaxPerTradePct = 0.1 // 100,000 notional cap
	c, err := NewController(cfg, capital, nil, time.Now())
	require.NoError(t, err)

	// Unclipped sizing would be 2000/5 = 400 units = 272,000 notional.
	dec, err := c.SizeAndApprove("SBIN", 680, 675)
	require.NoError(t, err)
	assert.Equal(t, 147, dec.Quantity) // floor(100000/680)
}

func TestDailyLossLockBlocksNewEntries(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	dec, err := c.SizeAndApprove("SBIN", 680, 675)
	require.NoError(t, err)
	c.RegisterOpen("pos-1", "SBIN", 680, dec.Quantity)

	// Lose 3% of capital in one trade.
	require.NoError(t, c.RegisterClose(ctx, TradeResult{PositionID: "pos-1", Symbol: "SBIN", PnL: -30_000}))

	_, err = c.SizeAndApprove("RELIANCE", 2900, 2890)
	var ve *VetoError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "daily loss limit")

	st := c.Snapshot()
	assert.True(t, st.LockedDay)
	assert.False(t, st.LockedWeek)
}

func TestWeeklyLockSurvivesDailyReset(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	c.RegisterOpen("pos-1", "SBIN", 680, 400)
	require.NoError(t, c.RegisterClose(ctx, TradeResult{PositionID: "pos-1", PnL: -50_000}))

	// Next day, same week: daily lock clears, weekly lock holds.
	c.ResetDaily(time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC))
	st := c.Snapshot()
	assert.False(t, st.LockedDay)
	assert.True(t, st.LockedWeek)

	_, err := c.SizeAndApprove("SBIN", 680, 675)
	var ve *VetoError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "weekly loss limit")

	// Next week clears the weekly lock.
	c.ResetDaily(time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	st = c.Snapshot()
	assert.False(t, st.LockedWeek)
	assert.InDelta(t, -50_000, st.MonthlyPnL, 1e-9)
	assert.False(t, st.LockedMonth)
}

func TestScaleOutReleasesCapital(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	c.RegisterOpen("pos-1", "SBIN", 680, 400)
	assert.InDelta(t, 272_000, c.Snapshot().UsedCapital, 1e-9)

	require.NoError(t, c.RegisterScaleOut(ctx, "pos-1", 132, 3399))
	assert.InDelta(t, float64(268*680), c.Snapshot().UsedCapital, 1e-9)

	require.NoError(t, c.RegisterScaleOut(ctx, "pos-1", 268, 7000))
	st := c.Snapshot()
	assert.Zero(t, st.UsedCapital)
	assert.Zero(t, st.OpenPositions)
	assert.InDelta(t, 10_399, st.DailyPnL, 1e-9)
}

func TestPersistedResultsReloadAcrossRestart(t *testing.T) {
	store, err := db.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, db.ApplyMigrations(store))

	now := time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	c1, err := NewController(testRiskConfig(), testCapital(), store, now)
	require.NoError(t, err)
	c1.RegisterOpen("pos-1", "SBIN", 680, 400)
	require.NoError(t, c1.RegisterClose(ctx, TradeResult{PositionID: "pos-1", PnL: -31_000}))

	// Fresh controller over the same store sees today's loss and stays locked.
	c2, err := NewController(testRiskConfig(), testCapital(), store, now)
	require.NoError(t, err)
	st := c2.Snapshot()
	assert.InDelta(t, -31_000, st.DailyPnL, 1e-9)
	assert.True(t, st.LockedDay)
}

func TestUpdateConfigRejectsBadLimits(t *testing.T) {
	c := newController(t)

	bad := testRiskConfig()
	bad.DailyLossPct = 0.2
	err := c.UpdateConfig(bad)
	var ce *config.ConfigError
	require.ErrorAs(t, err, &ce)

	good := testRiskConfig()
	good.MaxPositions = 1
	require.NoError(t, c.UpdateConfig(good))

	c.RegisterOpen("pos-1", "SBIN", 680, 400)
	_, err = c.SizeAndApprove("RELIANCE", 2900, 2890)
	var ve *VetoError
	assert.ErrorAs(t, err, &ve)
}
