// Package codes canonicalizes coupon codes and derives the guard keys used by
// the idempotency ledger. Both functions are pure and deterministic; the same
// rules are applied at storage time, at lookup time, and when hashing, so a
// code always resolves to the same row no matter how the client formatted it.
package codes

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// upper performs locale-independent Unicode uppercasing. strings.ToUpper is
// enough for ASCII codes, but affiliate codes are free-form user input.
var upper = cases.Upper(language.Und)

// Normalize returns the canonical form of a coupon code: surrounding
// whitespace removed, runs of inner whitespace collapsed to nothing, and the
// result uppercased. Hyphens are preserved ("john-ref" → "JOHN-REF").
//
// Normalize is total: any input, including the empty string, yields a result
// without error.
func Normalize(code string) string {
	fields := strings.Fields(code)
	if len(fields) == 0 {
		return ""
	}
	return upper.String(strings.Join(fields, ""))
}

// GuardKey derives the idempotency ledger key for a payment/coupon pair:
// the hex SHA-1 of "<paymentID>|<normalizedCode>". The separator keeps
// ("ab", "c") and ("a", "bc") from colliding. Callers must pass the coupon
// code through Normalize first; GuardKey does not normalize.
func GuardKey(paymentID, normalizedCode string) string {
	sum := sha1.Sum([]byte(paymentID + "|" + normalizedCode))
	return hex.EncodeToString(sum[:])
}
