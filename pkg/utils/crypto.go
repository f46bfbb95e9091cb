package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateHMAC generates an HMAC-SHA256 signature over data.
func GenerateHMAC(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateHMAC validates an HMAC-SHA256 signature in constant time.
func ValidateHMAC(data []byte, secret string, expectedMAC string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	expectedBytes, err := hex.DecodeString(expectedMAC)
	if err != nil {
		return false
	}
	return hmac.Equal(mac.Sum(nil), expectedBytes)
}
