package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"storefront/backend/internal/domain"
)

const tokenIssuer = "storefront"

var ErrInvalidToken = errors.New("invalid or expired token")

// AuthManager verifies bearer tokens minted by the identity service. Tokens
// carry the profile id as subject and the caller's role as a custom claim.
type AuthManager struct {
	secret []byte
}

type storefrontClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string) *AuthManager {
	return &AuthManager{secret: []byte(secret)}
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &storefrontClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	if role != domain.RoleAdmin && role != domain.RoleCustomer {
		return domain.Actor{}, errors.New("invalid token role")
	}
	return domain.Actor{ID: sub, Role: role}, nil
}

// IssueToken signs a token for actor. The server never hands tokens out
// itself; this is used by tooling and tests.
func (a *AuthManager) IssueToken(actor domain.Actor, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	now := time.Now().UTC()
	claims := storefrontClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
		},
		Role: actor.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
