package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

// TokenVerifier проверяет access-токен и возвращает id пользователя.
type TokenVerifier interface {
	VerifyAccessToken(token string) (string, error)
}

type TokenOptions struct {
	Issuer    string
	Audience  string
	TTL       time.Duration // только для выпуска
	ClockSkew time.Duration
}

// Tokens выпускает и проверяет access-токены слушателей (RS256, sub = user id).
// Серверу комнат нужен только публичный ключ; выпускает токены listener.
type Tokens struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	opts    TokenOptions
	now     func() time.Time
}

var _ TokenVerifier = (*Tokens)(nil)

func NewSigner(private *rsa.PrivateKey, opts TokenOptions) *Tokens {
	return &Tokens{private: private, public: &private.PublicKey, opts: opts, now: time.Now}
}

func NewVerifier(public *rsa.PublicKey, opts TokenOptions) *Tokens {
	return &Tokens{public: public, opts: opts, now: time.Now}
}

// WithClock подменяет часы проверки и выпуска.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}

// Claims: name — отображаемое имя слушателя на момент выпуска.
type Claims struct {
	jwt.StandardClaims
	Name string `json:"name,omitempty"`
}

func (t *Tokens) Issue(userID, name string) (string, error) {
	if t.private == nil {
		return "", errors.New("tokens: no private key")
	}
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidSubject
	}
	now := t.now()
	claims := Claims{
		Name: name,
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			Issuer:    t.opts.Issuer,
			Audience:  t.opts.Audience,
			IssuedAt:  now.Unix(),
			NotBefore: now.Unix(),
			ExpiresAt: now.Add(t.opts.TTL).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(t.private)
}

// Parse проверяет подпись, issuer, audience и сроки с допуском ClockSkew.
// Сроки проверяются по своим часам, встроенная проверка jwt отключена.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	parser := jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodRS256.Alg()},
		SkipClaimsValidation: true,
	}
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if !claims.VerifyIssuer(t.opts.Issuer, true) {
		return nil, ErrInvalidIssuer
	}
	if !claims.VerifyAudience(t.opts.Audience, true) {
		return nil, ErrInvalidAudience
	}
	now := t.now()
	skew := int64(t.opts.ClockSkew / time.Second)
	if claims.ExpiresAt == 0 || now.Unix() > claims.ExpiresAt+skew {
		return nil, ErrTokenExpired
	}
	if now.Unix() < claims.NotBefore-skew {
		return nil, ErrTokenNotYetValid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidSubject
	}
	return claims, nil
}

func (t *Tokens) VerifyAccessToken(raw string) (string, error) {
	claims, err := t.Parse(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// LoadRSAPrivateKey читает PEM (PKCS1 или PKCS8).
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// LoadRSAPublicKey читает PEM с ключом PKIX или сертификатом.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}
