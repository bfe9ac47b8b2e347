package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// Claims carries the credential version so sessions minted before a
// password rotation stop validating.
type Claims struct {
	UserID            string `json:"user_id"`
	Email             string `json:"email"`
	Use               string `json:"use"`
	CredentialVersion int64  `json:"cv"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	now                func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		AccessTokenSecret:  []byte(accessSecret),
		RefreshTokenSecret: []byte(refreshSecret),
		AccessTokenTTL:     accessTTL,
		RefreshTokenTTL:    refreshTTL,
		now:                time.Now,
	}
}

func (t *TokenIssuer) issue(userID, email, use string, version int64, ttl time.Duration, secret []byte) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		UserID:            userID,
		Email:             email,
		Use:               use,
		CredentialVersion: version,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", use, err)
	}
	return signed, expiresAt, nil
}

// NewSession mints an access/refresh pair for user.
func (t *TokenIssuer) NewSession(user *User, version int64) (*Session, error) {
	access, expiresAt, err := t.issue(user.ID, user.Email, tokenUseAccess, version, t.AccessTokenTTL, t.AccessTokenSecret)
	if err != nil {
		return nil, err
	}
	refresh, _, err := t.issue(user.ID, user.Email, tokenUseRefresh, version, t.RefreshTokenTTL, t.RefreshTokenSecret)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(t.AccessTokenTTL / time.Second),
		ExpiresAt:    expiresAt.Unix(),
		User:         user,
	}, nil
}

func (t *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	return t.parse(token, tokenUseAccess, t.AccessTokenSecret)
}

func (t *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	return t.parse(token, tokenUseRefresh, t.RefreshTokenSecret)
}

func (t *TokenIssuer) parse(tokenString, use string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrJWTExpired
		}
		return nil, ErrInvalidJWT
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Use != use || claims.UserID == "" {
		return nil, ErrInvalidJWT
	}
	return claims, nil
}
