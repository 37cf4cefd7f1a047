// Package bridgeauth mints and verifies the short-lived HS256 bearer tokens
// presented to authenticated WebSocket/SSE tool bridges.
package bridgeauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL 令牌默认有效期
const DefaultTTL = 5 * time.Minute

// Config 令牌参数
type Config struct {
	Secret   []byte
	Issuer   string
	Subject  string
	Audience string
	TTL      time.Duration
	// Now 用于测试注入时钟
	Now func() time.Time
}

// Minter 签发 HS256 令牌
type Minter struct {
	cfg Config
}

// NewMinter 创建 Minter，secret 不能为空
func NewMinter(cfg Config) (*Minter, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("bridgeauth: secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "toolport"
	}
	return &Minter{cfg: cfg}, nil
}

// Token 签发一个新令牌
func (m *Minter) Token() (string, error) {
	now := m.cfg.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    m.cfg.Issuer,
		Subject:   m.cfg.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TTL)),
		ID:        uuid.NewString(),
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("bridgeauth: sign token: %w", err)
	}
	return signed, nil
}

// Header 返回带 Authorization: Bearer 的请求头
func (m *Minter) Header() (http.Header, error) {
	tok, err := m.Token()
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}

// Verify 校验 Authorization 头或裸令牌，返回其中的标准声明。
// 供桥接端与测试使用。
func Verify(secret []byte, token, issuer, audience string) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("bridgeauth: %w", err)
	}
	return claims, nil
}
