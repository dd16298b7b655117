package events

import (
	"math/big"
	"strings"

	"phusd/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func zeroAddress(addr [20]byte) bool {
	return addr == ([20]byte{})
}

func formatAddress(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.PHPrefix, addr[:]).String()
}

func normalizeToken(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}
