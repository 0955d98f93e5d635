package payoutprovider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex signature in constant time. An optional
// "sha256=" prefix is accepted.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" {
		return false
	}
	sig := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, payload))
	return hmac.Equal(got, want)
}

func requestSigningPayload(timestamp, method, path string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteByte('.')
	b.WriteString(method)
	b.WriteByte('.')
	b.WriteString(path)
	b.WriteByte('.')
	b.Write(body)
	return []byte(b.String())
}
