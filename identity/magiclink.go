package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrExpiredMagicLink signals the link's validity window has passed.
	ErrExpiredMagicLink = errors.New("identity: magic link expired")
	// ErrInvalidMagicLink signals a malformed or tampered token.
	ErrInvalidMagicLink = errors.New("identity: invalid magic link")
)

// MagicLinkClaims is what a convention magic link asserts: a single role on a
// single convention, nothing more.
type MagicLinkClaims struct {
	ConventionID string
	Role         SignatoryRole
}

// MagicLinkIssuer creates and verifies the role-scoped JWTs that let
// signatories act on a convention without an account.
type MagicLinkIssuer struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// NewMagicLinkIssuer builds an issuer. validity bounds how long issued links
// stay usable.
func NewMagicLinkIssuer(secret string, validity time.Duration) *MagicLinkIssuer {
	return &MagicLinkIssuer{
		secret:   []byte(secret),
		validity: validity,
		now:      time.Now,
	}
}

// Issue creates a signed magic-link token for the given convention and role.
func (i *MagicLinkIssuer) Issue(conventionID string, role SignatoryRole) (string, error) {
	if conventionID == "" {
		return "", fmt.Errorf("identity: magic link requires a convention id")
	}
	if !ValidSignatoryRole(role) {
		return "", fmt.Errorf("identity: invalid magic-link role %q", role)
	}

	now := i.now()
	claims := jwt.MapClaims{
		"conventionId": conventionID,
		"role":         string(role),
		"exp":          now.Add(i.validity).Unix(),
		"iat":          now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign magic link: %w", err)
	}

	return signed, nil
}

// Verify validates a magic-link token and returns its claims.
func (i *MagicLinkIssuer) Verify(tokenString string) (MagicLinkClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return MagicLinkClaims{}, ErrExpiredMagicLink
		}
		return MagicLinkClaims{}, fmt.Errorf("%w: %v", ErrInvalidMagicLink, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return MagicLinkClaims{}, ErrInvalidMagicLink
	}

	conventionID, ok := claims["conventionId"].(string)
	if !ok || conventionID == "" {
		return MagicLinkClaims{}, fmt.Errorf("%w: missing convention id", ErrInvalidMagicLink)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return MagicLinkClaims{}, fmt.Errorf("%w: missing role", ErrInvalidMagicLink)
	}
	role := SignatoryRole(roleStr)
	if !ValidSignatoryRole(role) {
		return MagicLinkClaims{}, fmt.Errorf("%w: unknown role %q", ErrInvalidMagicLink, roleStr)
	}

	return MagicLinkClaims{ConventionID: conventionID, Role: role}, nil
}
