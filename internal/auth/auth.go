package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Messages answered by Swissdata when a bearer token is rejected.
var (
	ErrTokenNotFound = errors.New("Token not found")
	ErrTokenExpired  = errors.New("Token has expired")
)

// Claims represents the JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

const AccessTokenTTL = 12 * time.Hour

// Issuer signs access tokens and remembers revoked ones.
type Issuer struct {
	secret  []byte
	ttl     time.Duration
	mu      sync.RWMutex
	revoked map[string]struct{}
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = AccessTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, revoked: make(map[string]struct{})}
}

// Issue creates a signed JWT with user ID and roles and returns its expiry.
func (i *Issuer) Issue(userID string, roles []string) (string, time.Time, error) {
	return i.issueAt(userID, roles, time.Now())
}

func (i *Issuer) issueAt(userID string, roles []string, now time.Time) (string, time.Time, error) {
	expires := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Roles: roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a JWT. Expired tokens yield ErrTokenExpired, every other
// failure (including revocation) yields ErrTokenNotFound.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, ErrTokenNotFound
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenNotFound
	}

	i.mu.RLock()
	_, revoked := i.revoked[claims.ID]
	i.mu.RUnlock()
	if revoked {
		return nil, ErrTokenNotFound
	}
	return claims, nil
}

// Revoke invalidates a token. Unknown tokens are ignored.
func (i *Issuer) Revoke(tokenStr string) {
	claims, err := i.Parse(tokenStr)
	if err != nil {
		return
	}
	i.mu.Lock()
	i.revoked[claims.ID] = struct{}{}
	i.mu.Unlock()
}

// NewOpaqueToken creates a random token for double auth, account
// validation and password reset flows.
func NewOpaqueToken() string {
	return uuid.New().String()
}

// NewCode returns a random six digits code.
func NewCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		panic(fmt.Sprintf("read random code: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
