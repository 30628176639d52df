package auth

import "fmt"

const minPasswordLength = 8

// scrypt has no input length limit, but a megabyte "password" is a DoS vector
const maxPasswordLength = 128

// IsPasswordOK enforces the password policy for new and changed passwords.
// Existing hashes are never re-checked against it.
func IsPasswordOK(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("Password must be at least %v characters", minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("Password must be at most %v characters", maxPasswordLength)
	}
	return nil
}
