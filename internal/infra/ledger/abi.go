package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// Canonical method signatures used by the payment, receipt and loyalty contracts.
const (
	MethodMint      = "mint(address,uint256)"
	MethodTransfer  = "transfer(address,uint256)"
	MethodBalanceOf = "balanceOf(address)"
)

const wordSize = 32

var (
	hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// receipt token ids live in [0, 10^10)
	tokenIDModulus = new(big.Int).Exp(big.NewInt(10), big.NewInt(10), nil)
)

// IsHexAddress reports whether s is 0x followed by 40 hex digits.
func IsHexAddress(s string) bool {
	return hexAddressRe.MatchString(s)
}

// Keccak256 hashes data with the legacy (pre-NIST) Keccak used by the EVM.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// Selector returns the 4-byte method id of a canonical signature.
func Selector(signature string) []byte {
	return Keccak256([]byte(signature))[:4]
}

// EncodeCall builds calldata for a method with static arguments only.
// Supported types are address, bool and uintN.
func EncodeCall(signature string, args ...any) ([]byte, error) {
	types, err := argumentTypes(signature)
	if err != nil {
		return nil, err
	}
	if len(types) != len(args) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", signature, len(types), len(args))
	}

	out := make([]byte, 0, 4+wordSize*len(args))
	out = append(out, Selector(signature)...)
	for i, typ := range types {
		word, err := encodeArg(typ, args[i])
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", signature, i, err)
		}
		out = append(out, word...)
	}
	return out, nil
}

func argumentTypes(signature string) ([]string, error) {
	open := strings.IndexByte(signature, '(')
	if open <= 0 || !strings.HasSuffix(signature, ")") {
		return nil, fmt.Errorf("malformed method signature %q", signature)
	}
	inner := signature[open+1 : len(signature)-1]
	if inner == "" {
		return nil, nil
	}
	return strings.Split(inner, ","), nil
}

func encodeArg(typ string, arg any) ([]byte, error) {
	switch {
	case typ == "address":
		s, ok := arg.(string)
		if !ok || !IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %v", arg)
		}
		raw, _ := hex.DecodeString(s[2:])
		return leftPad(raw), nil

	case typ == "bool":
		b, ok := arg.(bool)
		if !ok {
			return nil, fmt.Errorf("invalid bool %v", arg)
		}
		if b {
			return leftPad([]byte{1}), nil
		}
		return leftPad(nil), nil

	case strings.HasPrefix(typ, "uint"):
		n, err := toBigInt(arg)
		if err != nil {
			return nil, err
		}
		if n.Sign() < 0 || n.Cmp(maxUint256) > 0 {
			return nil, fmt.Errorf("%s out of range: %s", typ, n)
		}
		return leftPad(n.Bytes()), nil
	}
	return nil, fmt.Errorf("unsupported argument type %q", typ)
}

func toBigInt(arg any) (*big.Int, error) {
	switch v := arg.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return v, nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	case int:
		return big.NewInt(int64(v)), nil
	}
	return nil, fmt.Errorf("invalid integer %v (%T)", arg, arg)
}

func leftPad(b []byte) []byte {
	word := make([]byte, wordSize)
	copy(word[wordSize-len(b):], b)
	return word
}

// DecodeUint256 reads the first word of an ABI-encoded return value.
func DecodeUint256(data []byte) (*big.Int, error) {
	if len(data) < wordSize {
		return nil, fmt.Errorf("short return data: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:wordSize]), nil
}

// TokenIDForSale derives the receipt token id of a sale: keccak256(saleID) mod 10^10.
func TokenIDForSale(saleID string) *big.Int {
	h := new(big.Int).SetBytes(Keccak256([]byte(saleID)))
	return h.Mod(h, tokenIDModulus)
}

// ToBaseUnits scales a decimal amount to the token's smallest unit.
// Amounts with more precision than the token supports are rejected.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", amount)
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits converts a smallest-unit integer back to a decimal amount.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
