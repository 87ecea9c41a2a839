package symbol

import (
	"testing"

	"chartfeed.com/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	p := Compose("Kraken", "BTC", "USD")
	assert.Equal(t, "BTC/USD", p.Short)
	assert.Equal(t, "Kraken:BTC/USD", p.Full)
}

func TestDecompose_RoundTrip(t *testing.T) {
	triples := []Parts{
		{"Kraken", "BTC", "USD"},
		{"Bitfinex", "ETH", "EUR"},
		{"x", "y", "z"},
		{"Coinbase_Pro", "USDC", "USDT"},
		{"1", "2", "3"},
	}
	for _, want := range triples {
		t.Run(want.Exchange, func(t *testing.T) {
			got, ok := Decompose(Compose(want.Exchange, want.Base, want.Quote).Full)
			require.True(t, ok)
			assert.Equal(t, want, got)
			assert.Equal(t, Compose(want.Exchange, want.Base, want.Quote).Full, got.Full())
		})
	}
}

func TestDecompose_RejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"not-a-symbol",
		"ex:onlyone",
		"",
		"Kraken:BTC/",
		":BTC/USD",
		"Kraken:BTC/USD/EUR",
		"Kraken:BTC-USD",
		"Kra ken:BTC/USD",
	} {
		t.Run(in, func(t *testing.T) {
			_, ok := Decompose(in)
			assert.False(t, ok)

			_, err := MustParse(in)
			assert.ErrorIs(t, err, ErrUnparseable)
			assert.Equal(t, xerr.RequestParamsError, xerr.CodeOf(err))
		})
	}
}

func TestChannel(t *testing.T) {
	p, err := MustParse("Kraken:BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "0~Kraken~BTC~USD", p.Channel())
	assert.Equal(t, p.Channel(), ChannelOf("Kraken", "BTC", "USD"))
}
