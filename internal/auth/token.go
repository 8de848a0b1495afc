// Package auth holds the credential primitives: bearer token encoding,
// password hashing, the GitHub OAuth client and the request middleware.
//
// BEARER TOKEN FORMAT:
// Clients receive an HS256-signed JWT:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"iss":"taskflow","sub":"<user id>","jti":"<token id>","iat":...}
//
// The signature alone does NOT make a token valid. The jti names a row in the
// access_tokens table, and the token only authenticates while that row
// exists. That is what lets logout revoke a single token without touching
// the user's other sessions. There is no "exp" claim; tokens live until
// revoked.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const issuer = "taskflow"

// TokenService mints and parses signed bearer tokens. It never touches the
// database; pairing a token with its stored record is the Guard's job.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given HMAC secret.
// Generate one with: openssl rand -hex 32
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// Mint creates a token for userID and returns its fresh id together with the
// signed string. The id is an xid: globally unique, so two tokens minted in
// the same instant for the same user still differ.
func (s *TokenService) Mint(userID int64) (tokenID, signed string, err error) {
	tokenID = xid.New().String()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       tokenID,
			Subject:  strconv.FormatInt(userID, 10),
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Issuer:   issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err = token.SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("auth: signing token: %w", err)
	}

	return tokenID, signed, nil
}

// Parse verifies the signature, algorithm and issuer, and returns the user id
// and token id the token carries.
//
// ALGORITHM CONFUSION:
// WithValidMethods pins HS256, so a token declaring "none" or an RSA
// algorithm is rejected before the key is ever used.
func (s *TokenService) Parse(tokenStr string) (userID int64, tokenID string, err error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return 0, "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return 0, "", fmt.Errorf("auth: invalid token claims")
	}

	if c.ID == "" {
		return 0, "", fmt.Errorf("auth: token has no id")
	}

	userID, err = strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", fmt.Errorf("auth: token has an invalid subject")
	}

	return userID, c.ID, nil
}
