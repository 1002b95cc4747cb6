package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/autotrade/config"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/events"
)

type fakeLedger struct {
	entries map[string][]domain.LedgerEntry
	err     error
	limits  []int
}

func (f *fakeLedger) Recent(instrument string, n int) ([]domain.LedgerEntry, error) {
	f.limits = append(f.limits, n)
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[instrument], nil
}

type fakeSettlements []domain.CycleSummary

func (f fakeSettlements) All() ([]domain.CycleSummary, error) { return f, nil }

func testPolicy() *config.PolicyStore {
	return config.NewPolicyStore(config.NewPolicy([]domain.Instrument{
		domain.NewInstrument(domain.Pair{From: "BTC", To: "KRW"}),
		domain.NewInstrument(domain.Pair{From: "SOL", To: "KRW"}),
	}, nil, decimal.RequireFromString("0.1"), decimal.NewFromInt(5000)))
}

func TestLedgerEndpoint(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 1, 2, 345_000_000, time.UTC)
	ledger := &fakeLedger{entries: map[string][]domain.LedgerEntry{
		"BTC": {{Timestamp: ts, Instrument: "BTC", Action: domain.ActionBuy, Rationale: "breakout"}},
	}}
	srv := NewServer("", ledger, nil, nil, testPolicy(), nil)

	tests := []struct {
		name      string
		query     string
		status    int
		instCount int
		limit     int
	}{
		{name: "all instruments", query: "", status: http.StatusOK, instCount: 2, limit: defaultLedgerLimit},
		{name: "single instrument", query: "?instrument=btc&limit=5", status: http.StatusOK, instCount: 1, limit: 5},
		{name: "limit capped", query: "?instrument=BTC&limit=100000", status: http.StatusOK, instCount: 1, limit: maxLedgerLimit},
		{name: "bad limit", query: "?limit=-1", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger.limits = nil
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ledger"+tt.query, nil))
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}

			var out map[string][]LedgerView
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.Len(t, out, tt.instCount)
			require.Len(t, out["BTC"], 1)
			assert.Equal(t, ts.UnixMilli(), out["BTC"][0].TimestampMs)
			assert.Equal(t, "2024-03-01T14:01:02.345Z", out["BTC"][0].Time)
			assert.Equal(t, "breakout", out["BTC"][0].Rationale)
			assert.Equal(t, tt.limit, ledger.limits[0])
		})
	}
}

func TestLedgerEndpointStoreError(t *testing.T) {
	srv := NewServer("", &fakeLedger{err: errors.New("disk")}, nil, nil, testPolicy(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ledger", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSettlementsEndpoint(t *testing.T) {
	srv := NewServer("", &fakeLedger{}, fakeSettlements{{CycleID: "c1", Profit: decimal.NewFromInt(19500)}}, nil, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settlements", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []domain.CycleSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.True(t, decimal.NewFromInt(19500).Equal(out[0].Profit))

	rec = httptest.NewRecorder()
	NewServer("", &fakeLedger{}, nil, nil, nil, nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settlements", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndex(t *testing.T) {
	srv := NewServer("", &fakeLedger{}, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTOTRADE")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCycleStream(t *testing.T) {
	broadcaster := events.NewCycleBroadcaster(4)
	srv := httptest.NewServer(NewServer("", &fakeLedger{}, nil, broadcaster, nil, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/cycles/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		for i := 0; i < 5; i++ {
			broadcaster.Publish(domain.CycleSummary{CycleID: "c42"})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	assert.Equal(t, "cycle", event)
	assert.Contains(t, data, `"cycle_id":"c42"`)
}
