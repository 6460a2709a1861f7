package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// DefaultOTPLength is the code length when none is configured.
const DefaultOTPLength = 6

// GenerateOTP returns a numeric code of length digits drawn from crypto/rand.
// Bytes >= 250 are rejected so every digit is uniform.
func GenerateOTP(length int) (string, error) {
	if length <= 0 {
		length = DefaultOTPLength
	}
	if length > 12 {
		return "", fmt.Errorf("otp length %d out of range", length)
	}
	s := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(s) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			s = append(s, '0'+b%10)
			if len(s) == length {
				break
			}
		}
	}
	return string(s), nil
}

// HashOTP returns the hex SHA-256 of code. Only the hash is persisted.
func HashOTP(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// OTPEqual compares the hash of the provided code with storedHash in constant time.
func OTPEqual(provided, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashOTP(provided)), []byte(storedHash)) == 1
}
