package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService validates join tokens presented on the websocket upgrade.
// When disabled, every join is admitted without a token.
type AuthService interface {
	Enabled() bool
	GenerateJoinToken(displayName string, owner bool) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	DisplayName string `json:"display_name"`
	// Owner marks a returning session owner, admitted as Host.
	Owner bool `json:"owner"`
	jwt.RegisteredClaims
}

type authService struct {
	enabled   bool
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(enabled bool, jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		enabled:   enabled,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) Enabled() bool {
	return s.enabled
}

func (s *authService) GenerateJoinToken(displayName string, owner bool) (string, error) {
	claims := &Claims{
		DisplayName: displayName,
		Owner:       owner,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
