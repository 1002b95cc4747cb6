package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

type fakeOrders struct {
	mu        sync.Mutex
	submitErr error
	records   []domain.OrderRecord
	queryErr  error
	polls     int
	buys      []decimal.Decimal
	sells     []decimal.Decimal
}

func (f *fakeOrders) BuyMarket(_ context.Context, _ domain.Pair, quote decimal.Decimal, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, quote)
	return f.submitErr
}

func (f *fakeOrders) SellMarket(_ context.Context, _ domain.Pair, qty decimal.Decimal, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, qty)
	return f.submitErr
}

func (f *fakeOrders) Order(_ context.Context, _ domain.Pair, id string) (domain.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if f.queryErr != nil {
		return domain.OrderRecord{}, f.queryErr
	}
	if len(f.records) == 0 {
		return domain.OrderRecord{ClientOrderID: id, Status: domain.ExchangeOrderNew}, nil
	}
	if i >= len(f.records) {
		i = len(f.records) - 1
	}
	rec := f.records[i]
	rec.ClientOrderID = id
	return rec, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Send(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

var (
	btc = domain.NewInstrument(domain.Pair{From: "BTC", To: "KRW"})
	d   = decimal.RequireFromString
)

func newExecutor(orders Orders, n Notifier) *Executor {
	ex := NewExecutor(orders, n, 10, 0, nil)
	ex.newID = func() string { return "cid-1" }
	return ex
}

func buy() domain.OrderInstruction {
	return domain.OrderInstruction{Instrument: btc, Side: domain.SideBuy, Notional: d("1000000"), Price: d("100000000")}
}

func TestExecuteDone(t *testing.T) {
	orders := &fakeOrders{records: []domain.OrderRecord{
		{Status: domain.ExchangeOrderNew},
		{Status: domain.ExchangeOrderPartiallyFilled, FilledQuantity: d("0.005")},
		{Status: domain.ExchangeOrderFilled, FilledQuantity: d("0.01"), QuoteAmount: d("1000000"), Fee: d("500")},
	}}
	notifier := &recordingNotifier{}

	res := newExecutor(orders, notifier).Execute(context.Background(), buy())

	require.Equal(t, domain.ResultDone, res.Kind)
	assert.NoError(t, res.Err)
	assert.Equal(t, domain.OrderStateDone, res.Outcome.State)
	assert.Equal(t, "cid-1", res.Outcome.ClientOrderID)
	assert.True(t, d("0.01").Equal(res.Outcome.FilledQuantity))
	assert.True(t, d("500").Equal(res.Outcome.Fee))
	assert.True(t, d("500").Equal(res.SettledFee()))
	assert.Equal(t, 3, orders.polls)
	require.Len(t, orders.buys, 1)
	assert.True(t, d("1000000").Equal(orders.buys[0]))
	assert.Empty(t, notifier.messages)
}

func TestExecuteUnknownAfterPollBound(t *testing.T) {
	orders := &fakeOrders{}
	notifier := &recordingNotifier{}

	res := newExecutor(orders, notifier).Execute(context.Background(), buy())

	assert.Equal(t, domain.ResultUnknown, res.Kind)
	assert.Equal(t, domain.OrderStateUnknown, res.Outcome.State)
	assert.True(t, res.SettledFee().IsZero())
	assert.Equal(t, 10, orders.polls)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "BTC")
	assert.Contains(t, notifier.messages[0], "unknown")
}

func TestExecuteUnknownWhenQueriesFail(t *testing.T) {
	orders := &fakeOrders{queryErr: errors.New("connection reset")}
	res := newExecutor(orders, &recordingNotifier{}).Execute(context.Background(), buy())

	assert.Equal(t, domain.ResultUnknown, res.Kind)
	assert.Equal(t, 10, orders.polls)
}

func TestExecuteSubmissionFailure(t *testing.T) {
	orders := &fakeOrders{submitErr: errors.New("insufficient balance")}
	notifier := &recordingNotifier{}

	sell := domain.OrderInstruction{Instrument: btc, Side: domain.SideSell, Quantity: d("0.5"), Price: d("100")}
	res := newExecutor(orders, notifier).Execute(context.Background(), sell)

	require.Equal(t, domain.ResultFailed, res.Kind)
	assert.True(t, errors.Is(res.Err, domain.ErrOrderSubmission))
	assert.Equal(t, domain.OrderStateFailed, res.Outcome.State)
	assert.Contains(t, res.Outcome.Error, "insufficient balance")
	assert.Zero(t, orders.polls)
	require.Len(t, orders.sells, 1)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "insufficient balance")
	assert.Contains(t, notifier.messages[0], "sell")
}

func TestExecuteTerminalStates(t *testing.T) {
	tests := []struct {
		name   string
		record domain.OrderRecord
		kind   domain.ResultKind
		state  domain.OrderState
	}{
		{
			name:   "cancelled without fill",
			record: domain.OrderRecord{Status: domain.ExchangeOrderCancelled},
			kind:   domain.ResultDone,
			state:  domain.OrderStateCancelled,
		},
		{
			name:   "expired with partial fill",
			record: domain.OrderRecord{Status: domain.ExchangeOrderExpired, FilledQuantity: d("0.001"), Fee: d("5")},
			kind:   domain.ResultDone,
			state:  domain.OrderStateDone,
		},
		{
			name:   "rejected",
			record: domain.OrderRecord{Status: domain.ExchangeOrderRejected},
			kind:   domain.ResultFailed,
			state:  domain.OrderStateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &fakeOrders{records: []domain.OrderRecord{tt.record}}
			res := newExecutor(orders, &recordingNotifier{}).Execute(context.Background(), buy())
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.state, res.Outcome.State)
			assert.Equal(t, 1, orders.polls)
		})
	}
}
