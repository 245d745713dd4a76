package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// BasicCredentials is the single admin user/password pair.
type BasicCredentials struct {
	User string
	Pass string
}

// Configured reports whether both user and password are set.
func (b BasicCredentials) Configured() bool {
	return b.User != "" && b.Pass != ""
}

// Match compares user and pass in constant time.
func (b BasicCredentials) Match(user, pass string) bool {
	if !b.Configured() {
		return false
	}
	userOK := equal(user, b.User)
	passOK := equal(pass, b.Pass)
	return userOK && passOK
}

// equal hashes both sides first so the comparison does not leak length.
func equal(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
