package wallet

import (
	"strings"

	"github.com/xssnick/tonutils-go/address"
)

// NormalizeAddress returns the canonical form of an account string.
// Hex accounts are lowercased, TON accounts are rendered in the bounceable
// mainnet user-friendly form, anything else is only trimmed.
func NormalizeAddress(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + strings.ToLower(s[2:])
	}
	if addr, ok := parseTON(s); ok {
		return addr
	}
	return s
}

func parseTON(s string) (string, bool) {
	var (
		addr *address.Address
		err  error
	)
	if strings.Contains(s, ":") {
		addr, err = address.ParseRawAddr(s)
	} else {
		addr, err = address.ParseAddr(s)
	}
	if err != nil {
		return "", false
	}
	addr.SetBounce(true)
	addr.SetTestnetOnly(false)
	return addr.String(), true
}

// SameAddress compares two account strings after normalization.
func SameAddress(a, b string) bool {
	na, nb := NormalizeAddress(a), NormalizeAddress(b)
	return na != "" && na == nb
}
