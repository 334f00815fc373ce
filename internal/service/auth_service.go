package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bark-labs/pushdispatch/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Scope is a permission carried by an admin session token.
type Scope string

const (
	ScopeDevicesRead  Scope = "devices:read"
	ScopeDevicesWrite Scope = "devices:write"
	ScopeUsersWrite   Scope = "users:write"
	ScopeLogsRead     Scope = "logs:read"
)

// Role names a fixed bundle of scopes granted at login.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

var roleScopes = map[Role][]Scope{
	RoleAdmin:  {ScopeDevicesRead, ScopeDevicesWrite, ScopeUsersWrite, ScopeLogsRead},
	RoleViewer: {ScopeDevicesRead, ScopeLogsRead},
}

const (
	tokenIssuer   = "pushdispatch"
	tokenAudience = "pushdispatch-admin"
	sessionTTL    = 12 * time.Hour
)

var (
	// ErrBadCredentials is returned for an unknown username or a wrong password.
	ErrBadCredentials = errors.New("invalid username or password")
	// ErrTokenInvalid covers missing, expired, foreign or tampered session tokens.
	ErrTokenInvalid = errors.New("session token invalid or expired")
	// ErrForbidden means the session is valid but lacks the required scope.
	ErrForbidden = errors.New("session lacks the required scope")
)

// AdminClaims is the session token payload issued to the operator console.
type AdminClaims struct {
	Role   Role    `json:"role"`
	Scopes []Scope `json:"scp"`
	jwt.RegisteredClaims
}

// Has reports whether the claims grant scope.
func (c *AdminClaims) Has(scope Scope) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// AuthService signs and checks admin console sessions. The configured
// password is held only as a bcrypt hash.
type AuthService struct {
	enabled      bool
	username     string
	passwordHash []byte
	role         Role
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

// NewAuthService validates the auth section of cfg and prepares the signer.
// A plaintext password is hashed once here so comparisons never touch it.
func NewAuthService(cfg *config.Config) (*AuthService, error) {
	a := &AuthService{enabled: cfg.Auth.Enabled, role: RoleAdmin, ttl: sessionTTL, now: time.Now}
	if !a.enabled {
		return a, nil
	}
	if err := cfg.ValidateAuth(); err != nil {
		return nil, err
	}
	if r := Role(strings.ToLower(strings.TrimSpace(cfg.Auth.Role))); r != "" {
		a.role = r
	}
	a.username = strings.TrimSpace(cfg.Auth.Username)
	a.secret = []byte(strings.TrimSpace(cfg.Auth.JWTSecret))

	password := strings.TrimSpace(cfg.Auth.Password)
	if isBcryptHash(password) {
		if _, err := bcrypt.Cost([]byte(password)); err != nil {
			return nil, fmt.Errorf("auth.password: %w", err)
		}
		a.passwordHash = []byte(password)
		return a, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash auth.password: %w", err)
	}
	a.passwordHash = hashed
	return a, nil
}

// Enabled reports whether authentication is enforced.
func (a *AuthService) Enabled() bool {
	return a != nil && a.enabled
}

// Login checks the credentials and issues a session token scoped to the
// configured role.
func (a *AuthService) Login(username, password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, nil
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(a.username)) == 1
	// Always run bcrypt so an unknown username costs the same as a bad password.
	passOK := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
	if !userOK || !passOK {
		return "", time.Time{}, ErrBadCredentials
	}
	now := a.now()
	expires := now.Add(a.ttl)
	claims := AdminClaims{
		Role:   a.role,
		Scopes: slices.Clone(roleScopes[a.role]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			Subject:   a.username,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Authorize verifies a session token and that it carries need. An empty need
// only checks the session. With auth disabled every caller is an anonymous
// admin.
func (a *AuthService) Authorize(token string, need Scope) (*AdminClaims, error) {
	if !a.Enabled() {
		return &AdminClaims{
			Role:             RoleAdmin,
			Scopes:           slices.Clone(roleScopes[RoleAdmin]),
			RegisteredClaims: jwt.RegisteredClaims{Subject: "anonymous"},
		}, nil
	}
	if token == "" {
		return nil, ErrTokenInvalid
	}
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if need != "" && !claims.Has(need) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, need)
	}
	return claims, nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// HashPassword produces a bcrypt hash suitable for auth.password.
func HashPassword(plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", errors.New("password must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
