// Package token provides capture token code generation.
package token

import (
	"crypto/rand"
)

const codeLength = 12

// Lowercase plus digits: URL-safe and usable as a DNS label, so the
// same code works for path and subdomain capture.
var charset = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

// Generate returns a new random token code.
func Generate() (string, error) {
	b := make([]byte, codeLength)
	randomBytes := make([]byte, codeLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = charset[int(randomBytes[i])%len(charset)]
	}
	return string(b), nil
}
