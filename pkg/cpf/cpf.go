// Package cpf validates Brazilian individual taxpayer numbers.
package cpf

import "strings"

// Digits returns the decimal digits of s, every other rune is dropped.
func Digits(s string) []int {
	out := make([]int, 0, 11)
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, int(r-'0'))
		}
	}
	return out
}

func checkDigit(digits []int) int {
	sum := 0
	weight := len(digits) + 1
	for _, d := range digits {
		sum += d * weight
		weight--
	}
	return (sum * 10 % 11) % 10
}

// Valid reports whether s holds 11 digits whose last two are the check
// digits of the first nine. Punctuation is ignored.
func Valid(s string) bool {
	digits := Digits(s)
	if len(digits) != 11 {
		return false
	}
	if digits[9] != checkDigit(digits[:9]) {
		return false
	}
	return digits[10] == checkDigit(digits[:10])
}

// Format renders the digits of a cpf as 000.000.000-00, s is returned as is
// when it does not hold 11 digits.
func Format(s string) string {
	digits := Digits(s)
	if len(digits) != 11 {
		return s
	}
	var sb strings.Builder
	for i, d := range digits {
		switch i {
		case 3, 6:
			sb.WriteByte('.')
		case 9:
			sb.WriteByte('-')
		}
		sb.WriteByte(byte('0' + d))
	}
	return sb.String()
}
