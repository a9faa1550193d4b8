package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest signing secret accepted.
const MinSecretLength = 32

var (
	// ErrTokenInvalid is returned for any token that fails verification.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrWeakSecret is returned when the signing secret is too short.
	ErrWeakSecret = errors.New("signing secret must be at least 32 characters")

	// ErrSubjectRequired is returned when issuing a token without a subject.
	ErrSubjectRequired = errors.New("token subject is required")
)

// Verifier checks bearer tokens against one secret and optional issuer.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a verifier. An empty issuer skips the issuer check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Parse validates signature, algorithm, expiry and issuer, and returns the
// token's claims.
func (v *Verifier) Parse(raw string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// IssueToken signs a service token for subject that expires after ttl.
func IssueToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	if len(secret) < MinSecretLength {
		return "", ErrWeakSecret
	}
	if subject == "" {
		return "", ErrSubjectRequired
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
