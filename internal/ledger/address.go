package ledger

import (
	"fmt"
	"math/big"
	"strings"
)

// LamportsPerSOL is the number of base units in one SOL.
const LamportsPerSOL uint64 = 1_000_000_000

// Length bounds of base58-encoded identifiers.
const (
	minAddressLen   = 32
	maxAddressLen   = 44
	minSignatureLen = 64
	maxSignatureLen = 88
)

func isBase58(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '1' && c <= '9':
		case c >= 'A' && c <= 'H':
		case c >= 'J' && c <= 'N':
		case c >= 'P' && c <= 'Z':
		case c >= 'a' && c <= 'k':
		case c >= 'm' && c <= 'z':
		default:
			return false
		}
	}
	return true
}

// IsValidAddress reports whether s looks like a base58 account address.
func IsValidAddress(s string) bool {
	return len(s) >= minAddressLen && len(s) <= maxAddressLen && isBase58(s)
}

// IsValidSignature reports whether s looks like a base58 transaction
// signature.
func IsValidSignature(s string) bool {
	return len(s) >= minSignatureLen && len(s) <= maxSignatureLen && isBase58(s)
}

// LamportsToSOL formats lamports as a decimal SOL string without trailing
// zeros, e.g. 1500000000 -> "1.5".
func LamportsToSOL(lamports uint64) string {
	whole := lamports / LamportsPerSOL
	frac := lamports % LamportsPerSOL
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%09d", whole, frac), "0")
}

// SOLToLamports parses a decimal SOL amount.  More than nine fractional
// digits, negative values and values beyond the uint64 range are rejected.
func SOLToLamports(sol string) (uint64, error) {
	sol = strings.TrimSpace(sol)
	if sol == "" || strings.ContainsAny(sol, "/eE") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, sol)
	}
	r, ok := new(big.Rat).SetString(sol)
	if !ok || r.Sign() < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, sol)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).SetUint64(LamportsPerSOL)))
	if !r.IsInt() {
		return 0, fmt.Errorf("%w: %q has more than 9 decimals", ErrInvalidAmount, sol)
	}
	n := r.Num()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, sol)
	}
	return n.Uint64(), nil
}
