package pwdhash

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Stored hashes are "<derivedKeyHex>.<saltHex>".
// The salt is 16 random bytes, and the derived key is 64 bytes of scrypt.

// scrypt(16384,8,1) is 36 ms on a Skylake 6700K
const saltSize = 16
const scryptKeySize = 64
const scryptN = 16384
const scryptR = 8
const scryptP = 1

// Returns a saltSize salt
func createSalt() []byte {
	s := [saltSize]byte{}
	if n, _ := rand.Read(s[:]); n != saltSize {
		panic("Error creating password salt")
	}
	return s[:]
}

func deriveKey(password string, salt []byte) []byte {
	dk, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeySize)
	if err != nil {
		panic(fmt.Sprintf("Error hashing password: %v", err))
	}
	return dk
}

// Create a random salt, and return the fully baked "<derivedKeyHex>.<saltHex>" hash
func HashPassword(password string) string {
	salt := createSalt()
	return hex.EncodeToString(deriveKey(password, salt)) + "." + hex.EncodeToString(salt)
}

// Returns true if a plaintext password matches a stored hash.
// A malformed stored hash returns false, it never panics.
func VerifyPassword(password, stored string) bool {
	keyHex, saltHex, ok := strings.Cut(stored, ".")
	if !ok {
		return false
	}
	expect, err := hex.DecodeString(keyHex)
	if err != nil || len(expect) != scryptKeySize {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(deriveKey(password, salt), expect) == 1
}

// Hash the session token to safeguard against timing attacks (eg in the DB's BTree lookup)
// The caller gets the plaintext value, and that is the ONLY place where the plaintext lives.
func HashSessionToken(value string) []byte {
	h := sha256.Sum256([]byte(value))
	return h[:]
}
