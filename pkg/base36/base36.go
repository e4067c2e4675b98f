// Package base36 generates short unique codes.
package base36

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Encode renders a non negative integer in lowercase base 36.
func Encode(n *big.Int) string {
	return n.Text(36)
}

// FromUUID encodes the 128 bit value of id.
func FromUUID(id uuid.UUID) string {
	return Encode(new(big.Int).SetBytes(id[:]))
}

// UniqueCode returns a code of exactly size characters taken from a random
// uuid, truncated or left padded with zeros.
func UniqueCode(size int) string {
	return fit(FromUUID(uuid.New()), size)
}

func fit(code string, size int) string {
	if size <= 0 {
		return ""
	}
	if len(code) > size {
		return code[:size]
	}
	return strings.Repeat("0", size-len(code)) + code
}
