// Package authz admits callers to the vault. A request is authenticated from
// its bearer token and then authorized only if the identity holds the
// super-admin role; there is no lower-privilege path.
package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	verrors "github.com/systmms/secretvault/internal/errors"
	"github.com/systmms/secretvault/internal/logging"
	"github.com/systmms/secretvault/internal/store"
)

// DefaultSuperAdminRole is the only role admitted by the gate unless configured otherwise.
const DefaultSuperAdminRole = "super_admin"

// Claims is the JWT claim set the vault understands. Subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// Principal is an identity that passed the super-admin check. Only Gate can
// produce one; vault operations refuse the zero value.
type Principal struct {
	identity Identity
	admitted bool
}

// Identity returns the admitted caller.
func (p Principal) Identity() Identity { return p.identity }

// Admitted reports whether p was produced by a successful authorization.
func (p Principal) Admitted() bool { return p.admitted }

// Config holds the configuration for token validation and role checks.
type Config struct {
	Secret         string
	Issuer         string
	Audience       string
	SuperAdminRole string
}

// Gate authenticates bearer tokens and authorizes super-admins.
type Gate struct {
	secret []byte
	role   string
	roles  store.RoleLookup
	parser *jwt.Parser
	logger *logging.Logger
}

// NewGate creates a gate. Tokens must be HS256-signed with cfg.Secret.
func NewGate(cfg Config, roles store.RoleLookup, logger *logging.Logger) (*Gate, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("authz: jwt secret is required")
	}
	if roles == nil {
		return nil, fmt.Errorf("authz: role lookup is required")
	}
	role := cfg.SuperAdminRole
	if role == "" {
		role = DefaultSuperAdminRole
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Gate{
		secret: []byte(cfg.Secret),
		role:   role,
		roles:  roles,
		parser: jwt.NewParser(opts...),
		logger: logger,
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", verrors.Unauthorized("Authorization header is required")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || strings.TrimSpace(token) == "" {
		return "", verrors.Unauthorized("Invalid authorization header format. Expected: Bearer <token>")
	}
	return strings.TrimSpace(token), nil
}

// Authenticate resolves a bearer token to an identity.
func (g *Gate) Authenticate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, verrors.Unauthorized("missing bearer token")
	}

	claims := &Claims{}
	parsed, err := g.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		g.logger.Debug("Rejected token %s: %v", logging.Secret(token), err)
		return Identity{}, verrors.Unauthorized("invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, verrors.Unauthorized("token has no subject")
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// AuthorizeSuperAdmin admits id only if it holds the super-admin role.
func (g *Gate) AuthorizeSuperAdmin(ctx context.Context, id Identity) (Principal, error) {
	roles, err := g.roles.RolesFor(ctx, id.UserID)
	if err != nil {
		return Principal{}, verrors.Internal(err, "role lookup failed")
	}
	for _, r := range roles {
		if r == g.role {
			return Principal{identity: id, admitted: true}, nil
		}
	}
	g.logger.Warn("Denied vault access to user %s", id.UserID)
	return Principal{}, verrors.Forbidden("forbidden")
}

// Admit runs the full gate for an Authorization header value.
func (g *Gate) Admit(ctx context.Context, authHeader string) (Principal, error) {
	token, err := BearerToken(authHeader)
	if err != nil {
		return Principal{}, err
	}
	id, err := g.Authenticate(token)
	if err != nil {
		return Principal{}, err
	}
	return g.AuthorizeSuperAdmin(ctx, id)
}

// SignToken issues an HS256 token for userID. It backs the CLI's token
// command for local deployments that have no identity provider.
func SignToken(cfg Config, userID string, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("authz: jwt secret is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
