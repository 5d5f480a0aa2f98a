package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/publish-scheduler/internal/model"
	"github.com/d60-Lab/publish-scheduler/pkg/response"
)

const principalKey = "principal"

// Claims 访问令牌声明，tz 为用户资料中的时区
type Claims struct {
	jwt.RegisteredClaims
	Timezone string `json:"tz,omitempty"`
}

// Auth 校验 HS256 Bearer token 并注入 Principal
func Auth(secret, issuer string) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			response.Unauthorized(c)
			return
		}
		var claims Claims
		_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return key, nil })
		if err != nil || claims.Subject == "" {
			response.Unauthorized(c)
			return
		}
		c.Set(principalKey, model.Principal{ID: claims.Subject, Timezone: claims.Timezone})
		c.Next()
	}
}

// IssueToken 签发访问令牌（测试与运维脚本使用）
func IssueToken(secret, issuer string, p model.Principal, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = p.ID
	claims.Issuer = issuer
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims, Timezone: p.Timezone})
	return tok.SignedString([]byte(secret))
}

var errNoPrincipal = errors.New("no principal in context")

// PrincipalFrom 取出 Auth 注入的 Principal
func PrincipalFrom(c *gin.Context) (model.Principal, error) {
	v, ok := c.Get(principalKey)
	if !ok {
		return model.Principal{}, errNoPrincipal
	}
	p, ok := v.(model.Principal)
	if !ok {
		return model.Principal{}, errNoPrincipal
	}
	return p, nil
}
