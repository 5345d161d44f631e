package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CeliaPro/ysm2-sub000/internal/config"
)

var ErrMissingSubject = errors.New("token has no subject")

// Enabled reports whether bearer tokens are required.
func Enabled() bool {
	return config.AppConfig.JWTSecret != ""
}

// GenerateJWT issues an HS256 token whose subject is the caller identity
// used for document ownership.
func GenerateJWT(userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ValidateJWT verifies the token and returns its subject.
func ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		sub, err := claims.GetSubject()
		if err != nil {
			return "", err
		}
		if sub == "" {
			return "", ErrMissingSubject
		}
		return sub, nil
	}

	return "", fmt.Errorf("invalid token")
}
