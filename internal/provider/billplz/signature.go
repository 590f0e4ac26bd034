package billplz

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

const (
	signatureField         = "x_signature"
	redirectPrefix         = "billplz["
	redirectSignatureField = "billplz[x_signature]"
)

// sourceString builds the X-Signature source: every field except the signature
// as key+value, sorted case-insensitively, joined by "|". Redirect keys such as
// billplz[id] sign as billplzid.
func sourceString(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		if k == signatureField || k == redirectSignatureField {
			continue
		}
		parts = append(parts, flattenKey(k)+v)
	}
	sort.Slice(parts, func(i, j int) bool {
		li, lj := strings.ToLower(parts[i]), strings.ToLower(parts[j])
		if li == lj {
			return parts[i] < parts[j]
		}
		return li < lj
	})
	return strings.Join(parts, "|")
}

func flattenKey(k string) string {
	return strings.NewReplacer("[", "", "]", "").Replace(k)
}

// Sign returns the hex HMAC-SHA256 of the fields under key.
func Sign(key string, fields map[string]string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(sourceString(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the payload's x_signature with the expected one in constant time.
func Verify(key string, fields map[string]string) bool {
	if key == "" {
		return false
	}
	got := strings.TrimSpace(fields[signatureField])
	if got == "" {
		got = strings.TrimSpace(fields[redirectSignatureField])
	}
	if got == "" {
		return false
	}
	want := Sign(key, fields)
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(want))
}
