package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// JWTSigner issues and checks EdDSA bearer tokens. The subject is the vault
// owner id handed to the store.
type JWTSigner struct {
	Priv ed25519.PrivateKey
	Pub  ed25519.PublicKey
	Iss  string
	TTL  time.Duration
}

type tokenClaims struct {
	Roles []Role `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func NewJWTSigner(priv ed25519.PrivateKey, iss string, ttl time.Duration) *JWTSigner {
	pub := priv.Public().(ed25519.PublicKey)
	return &JWTSigner{Priv: priv, Pub: pub, Iss: iss, TTL: ttl}
}

// NewJWTSignerFromSeed derives the signing key from a 32-byte seed so that
// separate processes sharing the seed accept each other's tokens. A nil
// seed yields a fresh random key.
func NewJWTSignerFromSeed(seed []byte, iss string, ttl time.Duration) (*JWTSigner, error) {
	if seed == nil {
		priv, _, err := GenerateEd25519()
		if err != nil {
			return nil, err
		}
		return NewJWTSigner(priv, iss, ttl), nil
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("auth: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewJWTSigner(ed25519.NewKeyFromSeed(seed), iss, ttl), nil
}

func GenerateEd25519() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, pub, err
}

func (s *JWTSigner) IssueToken(sub string, roles []Role) (string, time.Time, error) {
	if sub == "" {
		return "", time.Time{}, errors.New("auth: empty subject")
	}
	now := time.Now()
	exp := now.Add(s.TTL)

	claims := tokenClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Iss,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        randomJTI(),
		},
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.Priv)
	return ss, exp, err
}

func (s *JWTSigner) ParseAndValidate(tokenStr string) (*Claims, error) {
	var claims tokenClaims
	tok, err := jwt.ParseWithClaims(
		tokenStr,
		&claims,
		func(*jwt.Token) (any, error) { return s.Pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.Iss),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	out := &Claims{
		Sub:     claims.Subject,
		Roles:   claims.Roles,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}

func randomJTI() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
