// Package id generates opaque message identifiers.
package id

import (
	"crypto/rand"
	"encoding/base64"
)

// Length is the fixed size, in characters, of a generated id.
const Length = 10

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// New returns a fresh 10-character URL-safe opaque id.
//
// Unlike a ULID, the id carries no timestamp and is not sortable —
// messages are ordered by stream insertion, not by id.
func New() string {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		panic("id: failed to read random bytes: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}

// Token returns a cryptographically secure random token of the given
// byte length, base64 URL-encoded.
func Token(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
