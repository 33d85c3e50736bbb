// Package auth - jwt.go handles session token creation, signing, and
// verification using a shared secret, including secret initialization and
// fail-closed claims parsing.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// jwtSecret holds the validated JWT secret
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Session is the authenticated identity reconstructed from a verified token.
// It is never persisted server-side; the signed token is the only state.
type Session struct {
	UserID string
	Role   string
}

// Claims represents the JWT claims structure
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Account roles carried in the session role claim. Verification rejects any
// token whose role claim is not one of these.
const (
	RoleStudent = "STUDENT"
	RoleFaculty = "FACULTY"
	RoleAdmin   = "ADMIN"
)

func validRole(role string) bool {
	return role == RoleStudent || role == RoleFaculty || role == RoleAdmin
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less secure but functional secret
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateJWTSecret installs the signing secret from configuration.
// In production, this fails if the secret is empty — the process must refuse
// to serve rather than sign sessions with a guessable key.
// In development, an empty secret gets replaced by a random one with a loud
// warning. Call this at application startup, before the router is built.
func ValidateJWTSecret(secret string, production bool) error {
	jwtSecretOnce.Do(func() {
		if secret == "" {
			if production {
				jwtSecretErr = errors.New("SECURITY ERROR: JWT_SECRET (or auth.jwt_secret) is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			} else {
				jwtSecret = generateRandomSecret()
				log.Printf("WARNING: JWT secret not set. Using auto-generated secret for development.")
				log.Printf("WARNING: Sessions will not persist across restarts. Set JWT_SECRET for persistent sessions.")
			}
			return
		}

		// Validate secret length (minimum 32 characters recommended)
		if len(secret) < 32 {
			log.Printf("WARNING: JWT secret is shorter than recommended 32 characters. Consider using a longer secret.")
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated JWT secret.
// Panics if ValidateJWTSecret() hasn't been called or failed.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret("", false); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// Issue creates a signed session token for an authenticated account.
// The caller is responsible for transport (the HTTP-only session cookie).
func Issue(userID, role string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = 6 * time.Hour
	}

	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "readmystudent",
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	secret := GetJWTSecret()

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// Verify parses and validates a session token. It fails closed: any error at
// all — bad signature, expiry, malformed claims, missing subject, unrecognized
// role value — yields nil, never a partially-trusted session. Callers treat
// nil as "unauthenticated" and must not surface the failure reason to the
// client.
func Verify(tokenString string) *Session {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil || !token.Valid {
		return nil
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil
	}
	if claims.Subject == "" {
		return nil
	}
	if !validRole(claims.Role) {
		return nil
	}

	return &Session{UserID: claims.Subject, Role: claims.Role}
}
