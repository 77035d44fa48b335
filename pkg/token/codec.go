// Package token implements the bearer-token codec: issuing, verifying and
// hashing the signed JWTs that carry Driveline's access and refresh claims.
// The codec is stateless; durable refresh-token state lives in tokenstore.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/drivelinehq/driveline/pkg/autherr"
)

// Kind distinguishes the two token flavors carried in the signed payload.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const (
	// Issuer is the iss claim stamped on every token.
	Issuer = "driveline"

	// MinSecretLength is the floor for the HS256 signing secret, enforced at
	// construction. 32 bytes matches the SHA-256 block the HMAC keys off.
	MinSecretLength = 32
)

// signingMethod is pinned; verification rejects everything else outright so
// an attacker cannot downgrade to "none" or cross-grade to an asymmetric alg.
var signingMethod = jwt.SigningMethodHS256

// Claims is the signed payload embedded in both token kinds. Refresh tokens
// additionally carry the rotation-chain id linking them to their lineage.
type Claims struct {
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	Kind     Kind   `json:"kind"`
	ChainID  string `json:"chain_id,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject user id.
func (c *Claims) UserID() string { return c.Subject }

// TokenID returns the unique token id (jti).
func (c *Claims) TokenID() string { return c.ID }

// Pair is one access/refresh issuance.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessTokenID    string    `json:"-"`
	RefreshTokenID   string    `json:"-"`
	ChainID          string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Codec signs and verifies bearer tokens. Safe for concurrent use.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock overrides the codec's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a codec for the given signing secret and TTLs. Secrets
// shorter than MinSecretLength are rejected rather than silently accepted.
func NewCodec(secret []byte, accessTTL, refreshTTL time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token TTLs must be greater than zero")
	}
	c := &Codec{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs a new access token for the subject.
func (c *Codec) IssueAccess(userID, role, tenantID string) (string, *Claims, error) {
	return c.issue(userID, role, tenantID, KindAccess, "", c.accessTTL)
}

// IssueRefresh signs a new refresh token bound to a rotation chain.
func (c *Codec) IssueRefresh(userID, role, tenantID, chainID string) (string, *Claims, error) {
	if chainID == "" {
		return "", nil, errors.New("refresh token requires a rotation chain id")
	}
	return c.issue(userID, role, tenantID, KindRefresh, chainID, c.refreshTTL)
}

func (c *Codec) issue(userID, role, tenantID string, kind Kind, chainID string, ttl time.Duration) (string, *Claims, error) {
	if userID == "" {
		return "", nil, errors.New("userID is required")
	}
	now := c.now().UTC()
	claims := &Claims{
		Role:     role,
		TenantID: tenantID,
		Kind:     kind,
		ChainID:  chainID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewTokenID(),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature and expiry and returns the claims. The signing
// algorithm is pinned to HS256; anything else fails as a signature error.
func (c *Codec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != signingMethod.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, mapParseError(err)
	}
	if !parsed.Valid {
		return nil, autherr.ErrSignatureInvalid
	}
	if err := validateStructure(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyIgnoringExpiry checks the signature and claim structure but
// tolerates an expired token. Logout needs this: a client must be able to
// end a session whose access token has already lapsed, but a forged token
// must never reach the revocation registry.
func (c *Codec) VerifyIgnoringExpiry(raw string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != signingMethod.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, mapParseError(err)
	}
	if !parsed.Valid {
		return nil, autherr.ErrSignatureInvalid
	}
	if err := validateStructure(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Hash returns the hex SHA-256 digest of a raw token string. Refresh tokens
// are stored server-side only as this digest, so a stored record can confirm
// the client-held string without the store ever holding the token itself.
func (c *Codec) Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewTokenID returns a new unique token id.
func NewTokenID() string { return uuid.NewString() }

// NewChainID returns a new rotation-chain id.
func NewChainID() string { return uuid.NewString() }

// validateStructure enforces the cross-field claim invariants that a
// signature check cannot: refresh tokens must name their chain, and the
// expiry must postdate issuance.
func validateStructure(claims *Claims) error {
	switch claims.Kind {
	case KindAccess, KindRefresh:
	default:
		return fmt.Errorf("%w: unknown token kind %q", autherr.ErrMalformed, claims.Kind)
	}
	if claims.Kind == KindRefresh && claims.ChainID == "" {
		return fmt.Errorf("%w: refresh token missing chain id", autherr.ErrMalformed)
	}
	if claims.ID == "" || claims.Subject == "" {
		return fmt.Errorf("%w: missing token or subject id", autherr.ErrMalformed)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return fmt.Errorf("%w: expiry does not postdate issuance", autherr.ErrMalformed)
	}
	return nil
}

// mapParseError folds golang-jwt's error set into the package taxonomy.
// Expiry is checked before signature validity by the library, which matches
// the contract: an expired token fails Expired even if the signature holds.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", autherr.ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", autherr.ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", autherr.ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", autherr.ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %v", autherr.ErrSignatureInvalid, err)
	}
}
