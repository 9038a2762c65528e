package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fleetsutra/fastag/internal/clock"
	"github.com/fleetsutra/fastag/internal/config"
	"go.uber.org/fx"
)

var (
	ErrNotConfigured = errors.New("auth: token secret not configured")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrTokenExpired  = errors.New("auth: token expired")
)

// RoleAdmin marks operator tokens. The /admin surface requires it.
const RoleAdmin = "admin"

type tokenClaims struct {
	UserID    int64  `json:"sub"`
	Role      string `json:"role,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

// Claims are the verified contents of a bearer token.
type Claims struct {
	UserID int64
	Role   string
}

// Service issues and verifies HMAC-signed bearer tokens. Tokens are a
// base64url claims document plus a SHA-256 signature, joined by a dot.
type Service struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

type Params struct {
	fx.In

	Cfg   config.Config
	Clock clock.Clock
}

func NewService(p Params) *Service {
	return &Service{
		secret: []byte(p.Cfg.AuthTokenSecret),
		ttl:    p.Cfg.AuthTokenTTL,
		clock:  p.Clock,
	}
}

func (s *Service) Configured() bool {
	return len(s.secret) > 0
}

func (s *Service) Issue(userID int64, role string) (string, time.Time, error) {
	if !s.Configured() {
		return "", time.Time{}, ErrNotConfigured
	}

	expiresAt := s.clock.Now().Add(s.ttl)
	claims, err := json.Marshal(tokenClaims{UserID: userID, Role: role, ExpiresAt: expiresAt.Unix()})
	if err != nil {
		return "", time.Time{}, err
	}

	encoded := base64.RawURLEncoding.EncodeToString(claims)
	return encoded + "." + s.sign(encoded), expiresAt, nil
}

func (s *Service) Verify(token string) (Claims, error) {
	if !s.Configured() {
		return Claims{}, ErrNotConfigured
	}

	encoded, signature, found := strings.Cut(strings.TrimSpace(token), ".")
	if !found || encoded == "" {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(encoded))) {
		return Claims{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return Claims{}, ErrInvalidToken
	}
	if s.clock.Now().Unix() >= claims.ExpiresAt {
		return Claims{}, ErrTokenExpired
	}
	return Claims{UserID: claims.UserID, Role: claims.Role}, nil
}

func (s *Service) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
