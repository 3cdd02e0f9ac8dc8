// Package auth signs and verifies the opaque credentials handed to clients.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// RotationClaims are the application claims embedded in every credential.
// TokenID maps a presented refresh credential back to its store row.
type RotationClaims struct {
	TokenID string `json:"tid"`
	Kind    string `json:"kind"`
}

// Claims is the verified content of a credential.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"uid"`
	RotationClaims
}

// Signer is the access-token signer collaborator.
type Signer interface {
	Sign(userID int64, claims RotationClaims, ttl time.Duration) (string, error)
	Verify(token string) (*Claims, error)
}

// JWTSigner issues HS256 JWTs.
type JWTSigner struct {
	secretKey []byte
	now       func() time.Time
}

func NewJWTSigner(secretKey []byte) *JWTSigner {
	return &JWTSigner{secretKey: secretKey, now: time.Now}
}

func (s *JWTSigner) Sign(userID int64, claims RotationClaims, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:         userID,
		RotationClaims: claims,
	})

	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// Verify checks the signature and expiry. An expired credential yields
// common.ErrTokenExpired; anything else wrong yields common.ErrInvalidToken.
func (s *JWTSigner) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == 0 || claims.TokenID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
