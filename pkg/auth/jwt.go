package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims содержит идентичность пользователя, которую внешний издатель
// помещает в токен
type Claims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// TokenService проверяет JWT внешнего издателя по общему HS256 секрету.
// Issue выпускает совместимые токены для инструментов разработки и тестов.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService создает новый сервис токенов
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour // Значение по умолчанию
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

// Parse проверяет подпись и срок действия токена и возвращает клеймы
func (s *TokenService) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		// Проверяем метод подписи токена
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Printf("[JWT] Неожиданный метод подписи: %v", token.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			switch {
			case ve.Errors&jwt.ValidationErrorMalformed != 0:
				return nil, errors.New("token is malformed")
			case ve.Errors&jwt.ValidationErrorExpired != 0:
				return nil, errors.New("token is expired")
			case ve.Errors&jwt.ValidationErrorNotValidYet != 0:
				return nil, errors.New("token not valid yet")
			}
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	// Токен без идентичности бесполезен для API
	if claims.UserID == "" || claims.Email == "" {
		return nil, errors.New("token is missing identity claims")
	}

	return claims, nil
}

// Issue выпускает подписанный токен с указанной идентичностью
func (s *TokenService) Issue(userID, email, displayName string) (string, error) {
	if userID == "" || email == "" {
		return "", errors.New("user id and email are required")
	}

	now := time.Now()
	claims := &Claims{
		UserID:      userID,
		Email:       email,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
