package api

import (
	"github.com/golang-jwt/jwt/v5"

	"open-pryv.io/core/apierror"
)

// SSOCookieName is the signed single-sign-on cookie set by auth.login.
const SSOCookieName = "sso"

type ssoClaims struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	jwt.RegisteredClaims
}

// SignSSOToken wraps the username and personal access token in an HS256
// signed value stored in the SSO cookie.
func SignSSOToken(secret, username, accessToken string) (string, error) {
	claims := ssoClaims{Username: username, Token: accessToken}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseSSOToken verifies the cookie signature and returns the embedded
// username and access token.
func ParseSSOToken(secret, signed string) (username, accessToken string, err error) {
	token, err := jwt.ParseWithClaims(signed, &ssoClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", "", apierror.New(apierror.InvalidCredentials, "Invalid SSO cookie")
	}
	claims, ok := token.Claims.(*ssoClaims)
	if !ok {
		return "", "", apierror.New(apierror.InvalidCredentials, "Invalid SSO cookie")
	}
	return claims.Username, claims.Token, nil
}
