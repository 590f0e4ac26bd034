package toyyibpay

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Hash returns md5(secret + refno + amount + status) as lowercase hex.
func Hash(secret, refno, amount, status string) string {
	sum := md5.Sum([]byte(secret + refno + amount + status))
	return hex.EncodeToString(sum[:])
}

// Verify checks a callback hash. Any missing input is a mismatch.
func Verify(secret string, fields map[string]string) bool {
	got := strings.ToLower(strings.TrimSpace(fields["hash"]))
	refno := strings.TrimSpace(fields["refno"])
	amount := strings.TrimSpace(fields["amount"])
	status := strings.TrimSpace(fields["status"])
	if secret == "" || got == "" || refno == "" || amount == "" || status == "" {
		return false
	}
	want := Hash(secret, refno, amount, status)
	return hmac.Equal([]byte(got), []byte(want))
}
