package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

func parseHexBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if trimmed == "" {
		return new(big.Int), nil
	}
	n := new(big.Int)
	if _, ok := n.SetString(trimmed, 16); !ok {
		return nil, fmt.Errorf("invalid hex: %s", s)
	}
	return n, nil
}

func parseHexUint64(s string) (uint64, error) {
	n, err := parseHexBig(s)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("hex out of range: %s", s)
	}
	return n.Uint64(), nil
}

func encodeQuantity(n *big.Int) string {
	return "0x" + n.Text(16)
}

func decodeHexBytes(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed)%2 == 1 {
		trimmed = "0" + trimmed
	}
	return hex.DecodeString(trimmed)
}
