// Package auth turns connection tokens into player identities.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wfunc/griffonary/gameerr"
	"github.com/wfunc/griffonary/session"
)

// Resolver maps a token to a stable player identity.
type Resolver interface {
	Resolve(token string) (session.Player, error)
}

type claims struct {
	Name string       `json:"name"`
	Role session.Role `json:"role"`
	jwt.RegisteredClaims
}

var errSigningMethod = errors.New("unexpected signing method")

// JWTResolver validates HS256 tokens.
type JWTResolver struct {
	secret []byte
	now    func() time.Time
}

func NewJWTResolver(secret string) (*JWTResolver, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty jwt secret: %w", gameerr.ErrInvalid)
	}
	return &JWTResolver{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for player valid for ttl.
func (r *JWTResolver) Issue(player session.Player, ttl time.Duration) (string, error) {
	now := r.now()
	c := claims{
		Name: player.Name,
		Role: player.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   player.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (r *JWTResolver) Resolve(token string) (session.Player, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return session.Player{}, gameerr.ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errSigningMethod
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return session.Player{}, fmt.Errorf("token expired: %w", gameerr.ErrInvalidToken)
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return session.Player{}, fmt.Errorf("bad signature: %w", gameerr.ErrInvalidToken)
		default:
			return session.Player{}, fmt.Errorf("%v: %w", err, gameerr.ErrInvalidToken)
		}
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return session.Player{}, gameerr.ErrInvalidToken
	}

	player := session.Player{ID: c.Subject, Name: c.Name, Role: c.Role}
	if player.Name == "" {
		player.Name = player.ID
	}
	switch player.Role {
	case session.RoleRegistered, session.RoleAdmin:
	default:
		player.Role = session.RoleGuest
	}
	return player, nil
}
