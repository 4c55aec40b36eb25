package ledger

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector_KnownMethods(t *testing.T) {
	tests := map[string]string{
		MethodTransfer:  "a9059cbb",
		MethodBalanceOf: "70a08231",
		MethodMint:      "40c10f19",
	}
	for sig, want := range tests {
		assert.Equal(t, want, hex.EncodeToString(Selector(sig)), sig)
	}
}

func TestKeccak256_Empty(t *testing.T) {
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(Keccak256(nil)))
}

func TestEncodeCall_Transfer(t *testing.T) {
	to := "0x00000000000000000000000000000000000000aB"
	data, err := EncodeCall(MethodTransfer, to, big.NewInt(1000))
	require.NoError(t, err)
	require.Len(t, data, 4+2*32)

	assert.Equal(t, "a9059cbb", hex.EncodeToString(data[:4]))
	assert.Equal(t, byte(0xab), data[4+31])
	assert.Equal(t, int64(1000), new(big.Int).SetBytes(data[36:68]).Int64())
}

func TestEncodeCall_Rejects(t *testing.T) {
	_, err := EncodeCall(MethodTransfer, "0x1234", big.NewInt(1))
	assert.Error(t, err, "short address")

	_, err = EncodeCall(MethodTransfer, "0x00000000000000000000000000000000000000ab")
	assert.Error(t, err, "missing argument")

	_, err = EncodeCall(MethodMint, "0x00000000000000000000000000000000000000ab", big.NewInt(-1))
	assert.Error(t, err, "negative uint")

	_, err = EncodeCall("mint", "x")
	assert.Error(t, err, "malformed signature")
}

func TestDecodeUint256(t *testing.T) {
	word := make([]byte, 32)
	word[31] = 42
	n, err := DecodeUint256(word)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n.Int64())

	_, err = DecodeUint256(word[:10])
	assert.Error(t, err)
}

func TestTokenIDForSale(t *testing.T) {
	a := TokenIDForSale("S1")
	b := TokenIDForSale("S1")
	c := TokenIDForSale("S2")

	assert.Equal(t, 0, a.Cmp(b), "token id must be deterministic")
	assert.NotEqual(t, 0, a.Cmp(c))
	assert.True(t, a.Sign() >= 0 && a.Cmp(tokenIDModulus) < 0)
}

func TestToBaseUnits(t *testing.T) {
	n, err := ToBaseUnits(decimal.RequireFromString("0.5"), 18)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", n.String())

	n, err = ToBaseUnits(decimal.RequireFromString("12.34"), 6)
	require.NoError(t, err)
	assert.Equal(t, "12340000", n.String())

	_, err = ToBaseUnits(decimal.RequireFromString("0.0000001"), 6)
	assert.Error(t, err)

	_, err = ToBaseUnits(decimal.RequireFromString("-1"), 6)
	assert.Error(t, err)

	assert.True(t, FromBaseUnits(big.NewInt(12340000), 6).Equal(decimal.RequireFromString("12.34")))
}

func TestIsHexAddress(t *testing.T) {
	assert.True(t, IsHexAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsHexAddress("52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsHexAddress("0x52908400098527886E0F7030069857D2E4169EE"))
	assert.False(t, IsHexAddress("0xZZ908400098527886E0F7030069857D2E4169EE7"))
}
