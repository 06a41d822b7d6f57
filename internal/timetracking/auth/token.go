package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GenerateToken signs an HS256 token carrying the actor's identity
// claims: sub (user), cid (company) and role.
func GenerateToken(actor Actor, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  actor.UserID.String(),
		"cid":  actor.CompanyID.String(),
		"role": string(actor.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates the token signature and expiry and rebuilds the
// Actor from its claims.
func ParseToken(tokenString, secret string) (Actor, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Actor{}, fmt.Errorf("invalid token claims")
	}

	userID, err := claimUUID(claims, "sub")
	if err != nil {
		return Actor{}, err
	}
	companyID, err := claimUUID(claims, "cid")
	if err != nil {
		return Actor{}, err
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = string(RoleEmployee)
	}

	return Actor{UserID: userID, CompanyID: companyID, Role: Role(role)}, nil
}

func claimUUID(claims jwt.MapClaims, key string) (uuid.UUID, error) {
	raw, _ := claims[key].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s claim: %w", key, err)
	}
	return id, nil
}
