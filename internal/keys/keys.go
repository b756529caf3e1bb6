// Package keys owns the asymmetric signing material for consent tokens.
//
// Material is loaded once at startup and immutable afterwards; a key change
// requires a restart. There is deliberately no symmetric path anywhere in
// this package: the signer hands out *rsa.PrivateKey and nothing else, so a
// symmetric token cannot be constructed without changing the types.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
)

// Material holds the loaded RSA keypair and its stable identifier.
type Material struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	keyID   string
}

// Load reads the RSA keypair from PEM files. publicPath may be empty, in
// which case the public key is derived from the private key.
func Load(privatePath, publicPath, keyID string) (*Material, error) {
	if keyID == "" {
		return nil, errors.New("key id is required")
	}

	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	priv, err := parsePrivateKey(privPEM)
	if err != nil {
		return nil, err
	}

	pub := &priv.PublicKey
	if publicPath != "" {
		pubPEM, err := os.ReadFile(publicPath)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		pub, err = parsePublicKey(pubPEM)
		if err != nil {
			return nil, err
		}
	}

	return &Material{private: priv, public: pub, keyID: keyID}, nil
}

// GenerateEphemeral creates an in-process keypair. Used in development when
// no key path is configured, and by tests.
func GenerateEphemeral(keyID string) (*Material, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &Material{private: priv, public: &priv.PublicKey, keyID: keyID}, nil
}

// Private returns the signing key. Safe for concurrent use; the key is
// read-only after load.
func (m *Material) Private() *rsa.PrivateKey { return m.private }

// Public returns the verification key.
func (m *Material) Public() *rsa.PublicKey { return m.public }

// KeyID returns the stable key identifier embedded in tokens and the JWK set.
func (m *Material) KeyID() string { return m.keyID }

// JWK is a public RSA key in JSON Web Key form, suitable for third-party
// signature verification.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the export shape of /.well-known/jwks.json.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWKS exports the public key keyed by its stable identifier.
func (m *Material) JWKS() JWKSet {
	return JWKSet{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: m.keyID,
		N:   base64.RawURLEncoding.EncodeToString(m.public.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(m.public.E)).Bytes()),
	}}}
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in private key file")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in public key file")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
