// Package auth provides HTTP Basic authentication for the privileged
// session-management and admin download routes. Session-scoped routes are
// authorized solely by possession of the token and never pass through here.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator validates request credentials.
type Authenticator interface {
	// Authenticate returns true when the request carries valid credentials.
	Authenticate(r *http.Request) bool
}

// BasicAuthenticator validates HTTP Basic credentials against a configured
// username and either a plaintext password or a bcrypt hash.
//
// The bcrypt input is the SHA-256 hex digest of the password, not the raw
// password, so passwords longer than bcrypt's 72-byte limit still verify.
type BasicAuthenticator struct {
	username     string
	passwordSHA  []byte // sha256 hex of the plaintext password, when configured
	passwordHash []byte // bcrypt hash of sha256HexDigest(password), when configured
}

// NewBasicAuthenticator builds an authenticator from config values. Exactly
// one of password and passwordHash should be set; when both are present the
// hash wins.
func NewBasicAuthenticator(username, password, passwordHash string) (*BasicAuthenticator, error) {
	if username == "" {
		return nil, fmt.Errorf("auth username is required")
	}
	if password == "" && passwordHash == "" {
		return nil, fmt.Errorf("auth password or password hash is required")
	}

	a := &BasicAuthenticator{username: username}
	if passwordHash != "" {
		a.passwordHash = []byte(passwordHash)
	} else {
		a.passwordSHA = []byte(sha256HexDigest(password))
	}
	return a, nil
}

// Authenticate checks the request's Basic credentials.
func (a *BasicAuthenticator) Authenticate(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1

	digest := sha256HexDigest(pass)
	var passOK bool
	if a.passwordHash != nil {
		passOK = bcrypt.CompareHashAndPassword(a.passwordHash, []byte(digest)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(digest), a.passwordSHA) == 1
	}

	return userOK && passOK
}

// Require returns middleware enforcing the given authenticator. A nil
// authenticator (auth disabled) passes every request through.
func Require(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Authenticate(r) {
				w.Header().Set("WWW-Authenticate", `Basic realm="slideview"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HashPassword produces a bcrypt hash suitable for the password_hash config
// field, using the same SHA-256-then-bcrypt scheme the verifier expects.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(sha256HexDigest(password)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// sha256HexDigest returns the lowercase hex SHA-256 of s.
func sha256HexDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
