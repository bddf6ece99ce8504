package security

import (
	"ctf_scoring/internal/platform/config"
	"errors"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

var TokenAuth *jwtauth.JWTAuth

func InitJWT() {
	TokenAuth = NewTokenAuth(config.AppConfig.JWTSecret)
}

func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// GenerateToken signs a token for a competitor. Tokens are normally issued by the
// account service; this is used by tests and the admin tooling.
func GenerateToken(auth *jwtauth.JWTAuth, userID string, teamID *string, role string, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}
	if teamID != nil {
		claims["team_id"] = *teamID
	}
	_, tokenString, err := auth.Encode(claims)
	return tokenString, err
}

func GetUserIDFromClaims(claims jwt.MapClaims) (string, error) {
	id, ok := claims["user_id"].(string)
	if !ok || id == "" {
		return "", errors.New("user_id claim is missing or not a string")
	}
	return id, nil
}

func GetUserRoleFromClaims(claims jwt.MapClaims) (string, error) {
	role, ok := claims["role"].(string)
	if !ok {
		return "", errors.New("role claim is missing or not a string")
	}
	return role, nil
}

// GetTeamIDFromClaims returns nil when the competitor has no team.
func GetTeamIDFromClaims(claims jwt.MapClaims) *string {
	id, ok := claims["team_id"].(string)
	if !ok || id == "" {
		return nil
	}
	return &id
}
