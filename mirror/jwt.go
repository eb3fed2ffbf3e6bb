package mirror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// the upgrade query parameter that carries the jwt when the client cannot set headers
const AuthQueryKey = "auth"

var ErrAuthRequired = errors.New("Auth required")

// HS256 jwt that grants a client access to one published path, or all paths when empty
type UpgradeClaims struct {
	Path string `json:"path,omitempty"`
	gojwt.RegisteredClaims
}

func NewUpgradeJwt(signingKey []byte, path string, ttl time.Duration) (string, error) {
	claims := &UpgradeClaims{
		Path: path,
		RegisteredClaims: gojwt.RegisteredClaims{
			IssuedAt:  gojwt.NewNumericDate(time.Now()),
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

func ParseUpgradeJwt(signingKey []byte, jwtStr string) (*UpgradeClaims, error) {
	claims := &UpgradeClaims{}
	_, err := gojwt.ParseWithClaims(
		jwtStr,
		claims,
		func(token *gojwt.Token) (any, error) {
			return signingKey, nil
		},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// bearer header first, then the query parameter
func authorizeUpgrade(r *http.Request, signingKey []byte, path string) error {
	var jwtStr string
	if authorization := r.Header.Get("Authorization"); strings.HasPrefix(authorization, "Bearer ") {
		jwtStr = strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	} else {
		jwtStr = r.URL.Query().Get(AuthQueryKey)
	}
	if jwtStr == "" {
		return ErrAuthRequired
	}
	claims, err := ParseUpgradeJwt(signingKey, jwtStr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	if claims.Path != "" && normalizePath(claims.Path) != path {
		return fmt.Errorf("%w: token not valid for %s", ErrAuthRequired, path)
	}
	return nil
}
