package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"zh.xyz/dv/ora2pg/config"
)

// Claims 登录token中的用户信息
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

var ErrTokenExpired = &TokenError{Message: "token已过期"}

var ErrTokenInvalid = &TokenError{Message: "token无效"}

type TokenError struct {
	Message string
}

func (e *TokenError) Error() string {
	return e.Message
}

func jwtSettings() (string, time.Duration) {
	secret, hours := "ora2pg-secret-change-in-production", 24
	if cfg := config.GlobalConfig; cfg != nil {
		if cfg.JWT.Secret != "" {
			secret = cfg.JWT.Secret
		}
		if cfg.JWT.ExpireTime > 0 {
			hours = cfg.JWT.ExpireTime
		}
	}
	return secret, time.Duration(hours) * time.Hour
}

// GenerateToken 生成登录token
func GenerateToken(userID uint, username, role string) (string, error) {
	secret, ttl := jwtSettings()
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ora2pg",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken 解析并校验登录token
func ParseToken(tokenString string) (*Claims, error) {
	secret, _ := jwtSettings()
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil || !token.Valid:
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// HashPassword bcrypt加密密码
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword 校验密码
func CheckPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
