package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

const callerKey = "caller"

// Authenticator verifies HS256 bearer tokens. The token subject is the
// caller's account.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// IssueToken signs a token for subject valid for ttl.
func (a *Authenticator) IssueToken(subject domain.Account, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(subject),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses tokenString and returns its subject.
func (a *Authenticator) Verify(tokenString string) (domain.Account, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.NoAccount, err
	}
	if claims.Subject == "" {
		return domain.NoAccount, fmt.Errorf("token has no subject")
	}
	return domain.Account(claims.Subject), nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller account on the context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Error:   "unauthenticated",
				Message: "bearer token required",
			})
			return
		}

		caller, err := a.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Error:   "unauthenticated",
				Message: "invalid or expired token",
			})
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) domain.Account {
	if v, ok := c.Get(callerKey); ok {
		if a, ok := v.(domain.Account); ok {
			return a
		}
	}
	return domain.NoAccount
}
