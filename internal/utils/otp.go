package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"

	"golang.org/x/crypto/argon2"
)

const (
	otpMin = 1000
	otpMax = 9999

	// SaltSize is the length in bytes of a per-OTP salt
	SaltSize = 16
)

// GenerateSecureOTP generates a cryptographically secure 4-digit OTP in [1000, 9999]
func GenerateSecureOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate random number: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()+otpMin), nil
}

// GenerateSalt returns SaltSize random bytes
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// KDFParams are the argon2id cost parameters used to hash OTPs.
type KDFParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
}

// DefaultKDFParams follows the argon2id recommendation from RFC 9106 for
// memory-constrained environments.
var DefaultKDFParams = KDFParams{
	Time:      1,
	MemoryKiB: 64 * 1024,
	Threads:   4,
	KeyLen:    32,
}

// HashOTP derives the stored hash of code with argon2id.
func HashOTP(code string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(code), salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)
}

// VerifyOTP recomputes the hash of code and compares it in constant time.
func VerifyOTP(code string, salt, hash []byte, p KDFParams) bool {
	candidate := HashOTP(code, salt, p)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}
