package simstate

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoad(t *testing.T) {
	store, err := NewStoreAt(t.TempDir(), "Paper Account")
	require.NoError(t, err)
	assert.Contains(t, store.Path(), "paper_account.json")

	st, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, st)

	wallet := map[string]decimal.Decimal{
		"KRW": decimal.NewFromInt(1_000_000),
		"BTC": decimal.RequireFromString("0.0125"),
	}
	avg := map[string]decimal.Decimal{"BTC": decimal.NewFromInt(90_000_000)}
	require.NoError(t, store.Save(NewState(wallet, avg)))

	st, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, st)

	gotWallet, gotAvg, err := st.Decode()
	require.NoError(t, err)
	assert.True(t, wallet["KRW"].Equal(gotWallet["KRW"]))
	assert.True(t, wallet["BTC"].Equal(gotWallet["BTC"]))
	assert.True(t, avg["BTC"].Equal(gotAvg["BTC"]))

	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := State{Wallet: map[string]string{"BTC": "abc"}}.Decode()
	assert.Error(t, err)
}

func TestSanitizeScope(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  BTC_KRW ", "btc_krw"},
		{"a--b//c", "a_b_c"},
		{"__x__", "x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeScope(tt.in), tt.in)
	}
}
