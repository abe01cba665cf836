package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// RSAKeyBits is the modulus size used when a signing key has to be generated.
const RSAKeyBits = 2048

var (
	// ErrInvalidKey is returned when PEM or key type is invalid.
	ErrInvalidKey = errors.New("invalid key")
	// ErrKeyInitialization is returned when the signing key cannot be loaded or created.
	// The server must not start when it sees this error.
	ErrKeyInitialization = errors.New("signing key initialization failed")
)

// KeyPair is the RSA signing key used for access tokens together with its key id.
type KeyPair struct {
	ID      string
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey

	jwk jwk.Key
}

// NewKeyPair wraps an RSA private key and key id as a KeyPair.
func NewKeyPair(priv *rsa.PrivateKey, kid string) (*KeyPair, error) {
	if priv == nil || strings.TrimSpace(kid) == "" {
		return nil, ErrInvalidKey
	}
	key, err := jwk.Import(priv)
	if err != nil {
		return nil, fmt.Errorf("import jwk: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("set kid: %w", err)
	}
	return &KeyPair{ID: kid, Private: priv, Public: &priv.PublicKey, jwk: key}, nil
}

// GenerateKeyPair creates a fresh RSA key pair with a timestamp-derived key id.
func GenerateKeyPair(now time.Time) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, err
	}
	return NewKeyPair(priv, fmt.Sprintf("jwt-key-%d", now.UnixMilli()))
}

// MarshalJWK returns the private JWK (including kid) as JSON.
func (k *KeyPair) MarshalJWK() ([]byte, error) {
	return json.Marshal(k.jwk)
}

// PublicJWKS returns a JWK set holding only the public half of the key.
func (k *KeyPair) PublicJWKS() ([]byte, error) {
	pub, err := jwk.PublicKeyOf(k.jwk)
	if err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, err
	}
	return json.Marshal(set)
}

// ParseKeyPairJWK parses a private RSA JWK document.
func ParseKeyPairJWK(data []byte) (*KeyPair, error) {
	var header struct {
		KeyID string `json:"kid"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}
	if header.KeyID == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrInvalidKey)
	}
	key, err := jwk.ParseKey(data)
	if err != nil {
		return nil, err
	}
	var priv rsa.PrivateKey
	if err := jwk.Export(key, &priv); err != nil {
		return nil, fmt.Errorf("%w: not an RSA private key: %v", ErrInvalidKey, err)
	}
	return &KeyPair{ID: header.KeyID, Private: &priv, Public: &priv.PublicKey, jwk: key}, nil
}

// WriteKeyFile writes the private JWK to path with 0600 permissions, creating parent directories.
// The file is written to a temp name first and renamed into place.
func WriteKeyFile(path string, k *KeyPair) error {
	data, err := k.MarshalJWK()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// KeyProvider owns the access-token signing key. It loads the key from a JWK file
// or generates and persists one on first use; the result is cached for the process lifetime.
type KeyProvider struct {
	path string
	now  func() time.Time

	mu        sync.Mutex
	pair      *KeyPair
	generated bool
}

// NewKeyProvider returns a provider backed by the JWK file at path.
func NewKeyProvider(path string) *KeyProvider {
	return &KeyProvider{path: path, now: time.Now}
}

// LoadOrGenerate loads the key file or, when it is absent, generates and persists a new key.
// The result is cached; later calls return it without touching the file. Errors wrap ErrKeyInitialization.
func (p *KeyProvider) LoadOrGenerate() (*KeyPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pair != nil {
		return p.pair, nil
	}
	pair, generated, err := p.loadOrGenerate()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyInitialization, p.path, err)
	}
	p.pair = pair
	p.generated = generated
	return pair, nil
}

// SigningKey returns the cached key pair, loading it on first use.
func (p *KeyProvider) SigningKey() (*KeyPair, error) {
	return p.LoadOrGenerate()
}

// JWKS returns the public JWK set of the signing key.
func (p *KeyProvider) JWKS() ([]byte, error) {
	pair, err := p.SigningKey()
	if err != nil {
		return nil, err
	}
	return pair.PublicJWKS()
}

// Generated reports whether the cached key was created by this process.
func (p *KeyProvider) Generated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generated
}

// Path returns the configured key file path.
func (p *KeyProvider) Path() string { return p.path }

func (p *KeyProvider) loadOrGenerate() (*KeyPair, bool, error) {
	if strings.TrimSpace(p.path) == "" {
		return nil, false, errors.New("key file path is empty")
	}
	data, err := os.ReadFile(p.path)
	if err == nil {
		pair, err := ParseKeyPairJWK(data)
		return pair, false, err
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	pair, err := GenerateKeyPair(p.now())
	if err != nil {
		return nil, false, err
	}
	if err := WriteKeyFile(p.path, pair); err != nil {
		return nil, false, err
	}
	return pair, true, nil
}

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return os.ReadFile(s)
}

// ParseRSAPrivateKey parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8). s may be inline PEM or a file path.
func ParseRSAPrivateKey(s string) (*rsa.PrivateKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrInvalidKey
		}
		return priv, nil
	default:
		return nil, ErrInvalidKey
	}
}
