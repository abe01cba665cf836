package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, or expired.
	// It carries no detail on purpose.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds JWT claims for the access token. Subject is the external identity subject.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	UserID string `json:"uid"`
}

// AccessSubject is the user data embedded in an access token.
type AccessSubject struct {
	Subject string
	UserID  string
	Email   string
	Name    string
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithClock overrides the time source used for issuing and verifying tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(p *TokenProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// TokenProvider issues and verifies RS256 access tokens. It is stateless apart from the key.
type TokenProvider struct {
	key       *KeyPair
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with key and sets iss to issuer.
func NewTokenProvider(key *KeyPair, issuer string, accessTTL time.Duration, opts ...TokenOption) *TokenProvider {
	p := &TokenProvider{
		key:       key,
		issuer:    issuer,
		accessTTL: accessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TTL returns the access token lifetime.
func (p *TokenProvider) TTL() time.Duration { return p.accessTTL }

// Issue signs a new access token for s. Returns the token string and its expiration time.
func (p *TokenProvider) Issue(s AccessSubject) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	// JWT times have second precision; truncate so exp - iat is exactly the TTL.
	now := p.now().UTC().Truncate(time.Second)
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   s.Subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:  s.Email,
		Name:   s.Name,
		UserID: s.UserID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = p.key.ID
	token, err = t.SignedString(p.key.Private)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify parses tokenString and checks signature, algorithm, issuer and expiry.
// A token is still valid at the exact exp second. Any failure returns ErrInvalidToken.
func (p *TokenProvider) Verify(tokenString string) (*AccessClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return p.key.Public, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		// golang-jwt rejects now == exp; the leeway admits it and the After check below
		// rejects anything past exp.
		jwt.WithLeeway(time.Second),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	if p.now().After(claims.ExpiresAt.Time) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractSubject verifies the token and returns its subject.
func (p *TokenProvider) ExtractSubject(tokenString string) (string, error) {
	claims, err := p.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ExtractUserID verifies the token and returns the internal user id claim.
func (p *TokenProvider) ExtractUserID(tokenString string) (string, error) {
	claims, err := p.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
