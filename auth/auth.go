/*
Package auth handles passwords and session tokens.

PASSWORDS:
  BcryptHasher implements engine.Hasher with golang.org/x/crypto/bcrypt.

TOKENS:
  Sessions are HS256 JWTs carrying the user ID and a role. Users get
  RoleUser after login; the single static admin gets RoleAdmin.

ADMIN:
  There is no admin table. Admin credentials come from configuration and
  are compared in constant time.
*/
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/yield-engine/engine"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// =============================================================================
// PASSWORDS
// =============================================================================

// BcryptHasher hashes passwords with bcrypt at Cost.
type BcryptHasher struct {
	Cost int
}

var _ engine.Hasher = BcryptHasher{}

func NewBcryptHasher() BcryptHasher {
	return BcryptHasher{Cost: bcrypt.DefaultCost}
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// =============================================================================
// TOKENS
// =============================================================================

type Claims struct {
	UserID engine.UserID `json:"user_id,omitempty"`
	Role   Role          `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

// Issue returns a signed token for userID (zero for the admin).
func (i *Issuer) Issue(userID engine.UserID, role Role) (string, error) {
	now := i.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%s:%d", role, userID),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "yield-engine",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.Secret)
}

// Parse verifies a token and returns its claims.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return i.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.Now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleUser && claims.Role != RoleAdmin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// =============================================================================
// ADMIN
// =============================================================================

type AdminCredentials struct {
	Username string
	Password string
}

// Check reports whether username and password match.
func (a AdminCredentials) Check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.Password)) == 1
	return a.Username != "" && userOK && passOK
}
