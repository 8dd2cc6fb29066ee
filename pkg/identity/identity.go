// Package identity resolves who is acting on a request: an authenticated user carrying a
// signed session token, or the guest sentinel.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/model"
)

// Identity is the acting principal
type Identity struct {
	UserID string `json:"userId"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

// Guest is the identity used when no valid session is present
var Guest = Identity{UserID: model.GuestUserID, Role: model.RoleCustomer}

// IsGuest reports whether id is the guest sentinel
func (id Identity) IsGuest() bool {
	return id.UserID == "" || id.UserID == model.GuestUserID
}

// IsAdmin reports whether id may use the back-office
func (id Identity) IsAdmin() bool {
	return !id.IsGuest() && id.Role == model.RoleAdmin
}

// FromProfile builds the identity of a stored profile
func FromProfile(p *model.UserProfile) Identity {
	role := p.Role
	if role == "" {
		role = model.RoleCustomer
	}
	return Identity{UserID: p.ID, Phone: p.Phone, Email: p.Email, Role: role}
}

type claims struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens
type Issuer struct {
	now    func() time.Time
	issuer string
	secret []byte
	ttl    time.Duration
}

// DefaultTokenTTL is the session lifetime
const DefaultTokenTTL = 7 * 24 * time.Hour

// NewIssuer creates an Issuer. secret must be non-empty.
func NewIssuer(secret []byte, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("identity: token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// WithClock returns a copy of the issuer using now as its clock
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	out := *i
	out.now = now
	return &out
}

// Issue signs a token for id
func (i *Issuer) Issue(id Identity) (string, error) {
	if id.IsGuest() {
		return "", fmt.Errorf("identity: cannot issue a token for the guest identity")
	}
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Phone: id.Phone,
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its identity. Any failure is ErrUnauthorized.
func (i *Issuer) Parse(raw string) (Identity, error) {
	var c claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", serrors.ErrUnauthorized, err)
	}
	if c.Subject == "" || c.Subject == model.GuestUserID {
		return Identity{}, fmt.Errorf("%w: token has no subject", serrors.ErrUnauthorized)
	}
	return Identity{UserID: c.Subject, Phone: c.Phone, Email: c.Email, Role: c.Role}, nil
}

// Resolver maps a request to its acting identity
type Resolver struct {
	issuer *Issuer
}

// NewResolver creates a Resolver over issuer
func NewResolver(issuer *Issuer) *Resolver {
	return &Resolver{issuer: issuer}
}

// Resolve returns the bearer token's identity, or Guest when no token is sent.
// A token that is present but invalid is ErrUnauthorized rather than a silent downgrade.
func (r *Resolver) Resolve(req *http.Request) (Identity, error) {
	raw, ok := bearerToken(req.Header.Get("Authorization"))
	if !ok {
		return Guest, nil
	}
	return r.issuer.Parse(raw)
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

type contextKey struct{}

// WithIdentity returns a context carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, or Guest
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return Guest
}

// IsUnauthorized reports whether err is an authentication failure
func IsUnauthorized(err error) bool {
	return errors.Is(err, serrors.ErrUnauthorized)
}
