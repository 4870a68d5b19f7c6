package paylink

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumVectors(t *testing.T) {
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, v := range vectors {
		t.Run(v, func(t *testing.T) {
			got, err := Checksum(strings.ToLower(v))
			require.NoError(t, err)
			assert.Equal(t, v, got)

			got, err = Checksum(v)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		ok      bool
	}{
		{"all caps", "0x52908400098527886E0F7030069857D2E4169EE7", true},
		{"all lower", "0xde709f2102306220921060314715629080e2fb77", true},
		{"bad checksum", "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"no prefix", "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"too short", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeA", false},
		{"not hex", "0xzzAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidAddress)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	enc := Encoder{Decimals: 18}

	uri, err := enc.Encode("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", decimal.RequireFromString("0.005"), 84532)
	require.NoError(t, err)
	assert.Equal(t, "ethereum:0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed@84532?value=5000000000000000", uri)
}

func TestEncodeTruncatesBelowBaseUnit(t *testing.T) {
	enc := Encoder{Decimals: 6}

	uri, err := enc.Encode("0x52908400098527886E0F7030069857D2E4169EE7", decimal.RequireFromString("1.2345679"), 1)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(uri, "?value=1234567"), uri)
}

func TestEncodeRejects(t *testing.T) {
	enc := Encoder{}
	addr := "0x52908400098527886E0F7030069857D2E4169EE7"

	_, err := enc.Encode(addr, decimal.Zero, 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = enc.Encode(addr, decimal.RequireFromString("-1"), 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = enc.Encode(addr, decimal.New(1, -19), 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = enc.Encode("0xnope", decimal.NewFromInt(1), 1)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = enc.Encode(addr, decimal.NewFromInt(1), 0)
	assert.Error(t, err)
}

func TestEncodeIsDeterministic(t *testing.T) {
	enc := Encoder{}
	amount := decimal.RequireFromString("0.0033333333")
	first, err := enc.Encode("0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb", amount, 8453)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := enc.Encode("0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb", amount, 8453)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMetaMaskLink(t *testing.T) {
	uri, err := Encoder{}.Encode("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", decimal.RequireFromString("0.005"), 84532)
	require.NoError(t, err)

	link, err := MetaMaskLink(uri)
	require.NoError(t, err)
	assert.Equal(t, "https://metamask.app.link/send/pay-0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed@84532?value=5000000000000000", link)

	_, err = MetaMaskLink("bitcoin:abc")
	assert.Error(t, err)
}
