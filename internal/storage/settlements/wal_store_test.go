package settlements

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

func TestWALStoreSaveAndReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWALStore(dir)
	require.NoError(t, err)

	_, ok, err := store.Last()
	require.NoError(t, err)
	assert.False(t, ok)

	summary := domain.CycleSummary{
		CycleID:    "c-1",
		StartedAt:  time.UnixMilli(1_700_000_000_000).UTC(),
		FinishedAt: time.UnixMilli(1_700_000_060_000).UTC(),
		Results: []domain.InstrumentResult{
			{Instrument: "BTC", Action: domain.ActionBuy, Outcome: &domain.OrderOutcome{State: domain.OrderStateDone, Fee: decimal.NewFromInt(500)}},
			{Instrument: "SOL", Action: domain.ActionHold, NoOp: domain.NoOpHold},
		},
	}
	summary.Settle(decimal.NewFromInt(10_000_000), decimal.NewFromInt(10_020_000), decimal.NewFromInt(500))
	require.NoError(t, store.Save(summary))
	require.NoError(t, store.Save(domain.CycleSummary{CycleID: "c-2", Aborted: true, AbortReason: "decision request aborted"}))
	require.Error(t, store.Save(domain.CycleSummary{}))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.All()
	require.NoError(t, err)
	require.Len(t, all, 2)

	first := all[0]
	assert.Equal(t, "c-1", first.CycleID)
	assert.True(t, decimal.NewFromInt(19_500).Equal(first.Profit), first.Profit.String())
	assert.True(t, summary.StartedAt.Equal(first.StartedAt))
	require.Len(t, first.Results, 2)
	assert.Equal(t, domain.OrderStateDone, first.Results[0].Outcome.State)

	last, ok, err := reopened.Last()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Aborted)
}
