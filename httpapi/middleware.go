package httpapi

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/kydenul/luckydraw"
)

const bearerSchema = "Bearer "

// JWTAuthMiddleware validates an HMAC-signed bearer token and places its
// numeric user id on the request context for the engine's identity resolver
func JWTAuthMiddleware(secret []byte, logger luckydraw.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = luckydraw.NewSilentLogger()
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, luckydraw.ErrUnauthorized.WithDetails("authorization header is required"))
			return
		}
		if !strings.HasPrefix(authHeader, bearerSchema) {
			abortWithError(c, luckydraw.ErrUnauthorized.WithDetails("authorization header must start with Bearer"))
			return
		}

		token, err := jwt.Parse(strings.TrimPrefix(authHeader, bearerSchema), func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			logger.Debug("JWTAuthMiddleware token rejected: %v", err)
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortWithError(c, luckydraw.ErrUnauthorized.WithDetails("token has expired"))
			} else {
				abortWithError(c, luckydraw.ErrUnauthorized.WithDetails("invalid token"))
			}
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			abortWithError(c, luckydraw.ErrUnauthorized.WithDetails("invalid token claims"))
			return
		}

		userID, err := userIDFromClaims(claims)
		if err != nil {
			abortWithError(c, luckydraw.ErrUnauthorized.WithDetails(err.Error()))
			return
		}

		c.Request = c.Request.WithContext(luckydraw.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// userIDFromClaims reads a positive user id from "userId", falling back to "sub"
func userIDFromClaims(claims jwt.MapClaims) (int64, error) {
	var id int64
	switch v := claims["userId"].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("user id %v is not an integer", v)
		}
		id = int64(v)
	case string:
		id, _ = strconv.ParseInt(v, 10, 64)
	case nil:
		sub, err := claims.GetSubject()
		if err != nil {
			return 0, err
		}
		id, _ = strconv.ParseInt(sub, 10, 64)
	}

	if id <= 0 {
		return 0, errors.New("token carries no numeric user id")
	}
	return id, nil
}
