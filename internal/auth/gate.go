package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const bearerPrefix = "bearer "

// RoleLookup resolves the stored role of a user by email. Implementations
// return an error wrapping a not-found sentinel when the user is absent; the
// gate treats any lookup miss as forbidden.
type RoleLookup interface {
	RoleOf(ctx context.Context, email string) (string, error)
}

// ErrLookupMiss is wrapped by RoleLookup implementations for unknown emails.
var ErrLookupMiss = errors.New("auth: user not found")

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", fmt.Errorf("%w: invalid authorization scheme", ErrUnauthorized)
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return token, nil
}

// Authenticate verifies the Authorization header and returns the claims.
func (t *Tokens) Authenticate(header string) (Claims, error) {
	token, err := BearerToken(header)
	if err != nil {
		return Claims{}, err
	}
	claims, err := t.Verify(token)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims, nil
}

// RequireRole checks that the user named by the claims in ctx holds role.
// The store is consulted on every call.
func RequireRole(ctx context.Context, lookup RoleLookup, role string) error {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: role check before authentication", ErrUnauthorized)
	}
	got, err := lookup.RoleOf(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, ErrLookupMiss) {
			return ErrForbidden
		}
		return err
	}
	if !strings.EqualFold(got, role) {
		return ErrForbidden
	}
	return nil
}
