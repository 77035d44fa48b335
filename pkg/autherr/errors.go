// Package autherr defines the error taxonomy shared by the token lifecycle
// and authorization packages. Transports map these onto status codes without
// leaking which specific check failed; the sentinels stay available for
// logging and tests via errors.Is.
package autherr

import "errors"

// Authentication failures (401-class).
var (
	// ErrMalformed indicates a structurally invalid token.
	ErrMalformed = errors.New("malformed token")

	// ErrSignatureInvalid indicates the token signature did not verify.
	ErrSignatureInvalid = errors.New("invalid token signature")

	// ErrExpired indicates the token is past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrInvalidTokenType indicates an access token was presented where a
	// refresh token was required, or vice versa.
	ErrInvalidTokenType = errors.New("invalid token type")

	// ErrNotFoundOrRotated indicates the presented refresh token has no
	// stored record, either because it was never issued here or because its
	// record was already retired.
	ErrNotFoundOrRotated = errors.New("refresh token not found or already rotated")

	// ErrReplayDetected indicates a refresh token was presented a second
	// time. The whole rotation chain is revoked before this surfaces.
	ErrReplayDetected = errors.New("refresh token replay detected")

	// ErrTamperedToken indicates the presented refresh token does not match
	// the digest recorded at issuance.
	ErrTamperedToken = errors.New("refresh token digest mismatch")

	// ErrInvalidCredentials covers every login failure; callers never learn
	// whether the account or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound indicates the token's subject no longer resolves to a
	// user account.
	ErrUserNotFound = errors.New("user not found")

	// ErrTokenRevoked indicates the token was explicitly revoked before its
	// natural expiry.
	ErrTokenRevoked = errors.New("token revoked")
)

// Authorization failures (403-class).
var (
	// ErrInsufficientPermissions indicates the principal's role lacks a
	// required capability.
	ErrInsufficientPermissions = errors.New("insufficient permissions")

	// ErrOutOfScope indicates the target resource is outside the scoped
	// role's allow-list.
	ErrOutOfScope = errors.New("resource out of scope")

	// ErrTenantMismatch indicates the request's tenant differs from the
	// tenant baked into the principal's token.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrNotATenantMember indicates the principal is not a member of the
	// requested tenant.
	ErrNotATenantMember = errors.New("not a tenant member")
)

// Store failures.
var (
	// ErrDuplicateTokenID indicates a refresh-token record with the same id
	// already exists. Token ids are random 128-bit values, so this signals a
	// bug or an id-generation failure, never normal operation.
	ErrDuplicateTokenID = errors.New("duplicate token id")
)

// GenericDenial is the only message callers see for any authentication
// failure. The specific sentinel is preserved internally for audit and tests.
const GenericDenial = "authentication failed"

// IsAuthentication reports whether err is an authentication-class failure.
func IsAuthentication(err error) bool {
	for _, sentinel := range []error{
		ErrMalformed, ErrSignatureInvalid, ErrExpired, ErrInvalidTokenType,
		ErrNotFoundOrRotated, ErrReplayDetected, ErrTamperedToken,
		ErrInvalidCredentials, ErrUserNotFound, ErrTokenRevoked,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsAuthorization reports whether err is an authorization-class failure.
// Authorization failures presuppose a valid identity and map to 403, not 401.
func IsAuthorization(err error) bool {
	for _, sentinel := range []error{
		ErrInsufficientPermissions, ErrOutOfScope, ErrTenantMismatch, ErrNotATenantMember,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsSuspicious reports whether err indicates likely token theft or tampering.
// These failures trigger chain revocation before they surface.
func IsSuspicious(err error) bool {
	for _, sentinel := range []error{
		ErrReplayDetected, ErrTamperedToken, ErrNotFoundOrRotated,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
