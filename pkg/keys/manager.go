// Package keys provides RSA signing key management for the Lumina auth core.
//
// A [Manager] owns exactly one RSA key pair and its key identifier. The pair
// is loaded from base64-encoded PEM configuration, or, in development mode
// only, generated ephemerally at construction. The pair is validated with a
// probe signature before the Manager is returned, so a misconfigured
// deployment fails at startup rather than at the first sign call.
//
// The Manager is immutable after construction and safe for concurrent use.
//
// # Ephemeral Keys
//
// An ephemeral per-process key pair silently breaks cross-instance token
// verification: tokens signed by one replica cannot be verified by another.
// Construction therefore fails when no key material is configured unless
// [Config.DevelopmentMode] is set, and even then a warning is logged.
//
// # Key Publication
//
// [Manager.JWKS] renders the public key as a JSON Web Key Set for external
// verifiers, and [Handler] exposes the JWKS, PEM, and key-validation
// diagnostic endpoints described in the platform API.
package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"log/slog"

	"github.com/luminasoft/lumina-auth/pkg/config"
	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
)

// DevKeyID is the sentinel key identifier assigned to ephemeral key pairs
// generated in development mode. Its presence in a token header or JWKS
// document is a reliable signal that the issuer is running without
// configured key material.
const DevKeyID = "lumina-dev-ephemeral"

// keyBits is the modulus size for generated development key pairs.
const keyBits = 2048

// keyProbe is the fixed plaintext signed and verified at construction to
// prove the private and public keys form a matched pair.
const keyProbe = "lumina-auth key probe v1"

// Config holds the key material configuration for a [Manager].
//
// PrivateKeyPEM and PublicKeyPEM carry base64-encoded PEM blocks (the
// base64 wrapping keeps multi-line PEM safe in env vars and YAML scalars).
// When both are empty, construction generates an ephemeral pair if
// DevelopmentMode is set, and fails otherwise.
type Config struct {
	// PrivateKeyPEM is the base64-encoded PEM private key (PKCS#1 or
	// PKCS#8). The Secret type prevents accidental logging.
	PrivateKeyPEM config.Secret `json:"-" env:"PRIVATE_KEY" yaml:"private_key"`

	// PublicKeyPEM is the base64-encoded PEM public key (PKIX or PKCS#1).
	// Optional when PrivateKeyPEM is set; the public half is then derived
	// from the private key.
	PublicKeyPEM string `json:"-" env:"PUBLIC_KEY" yaml:"public_key"`

	// KeyID identifies the pair in token headers and JWKS documents.
	// Required when key material is configured.
	KeyID string `json:"key_id" env:"KEY_ID" yaml:"key_id"`

	// DevelopmentMode permits ephemeral key generation when no key
	// material is configured. Never enable this on a multi-instance
	// deployment.
	DevelopmentMode bool `json:"development_mode" env:"DEV_MODE" envDefault:"false" yaml:"development_mode"`

	// Logger receives the ephemeral-key warning. If nil, slog.Default()
	// is used.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// Manager owns an RSA key pair and its identifier. Construct with
// [NewManager]; the zero value is not usable. All methods are safe for
// concurrent use; the Manager is never mutated after construction.
type Manager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyID      string
	ephemeral  bool
}

// NewManager builds a Manager from the given configuration.
//
// Resolution order:
//
//  1. PrivateKeyPEM set: parse it, derive or parse the public half, use
//     the configured KeyID (required).
//  2. No key material, DevelopmentMode set: generate an ephemeral
//     2048-bit pair with [DevKeyID] and log a warning.
//  3. No key material otherwise: fail with [luerr.CodeKeyConfiguration].
//
// The pair is always validated by signing and verifying a fixed probe
// string; a mismatched pair fails with [luerr.CodeKeyMismatch].
func NewManager(cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{}

	switch {
	case cfg.PrivateKeyPEM.Value() != "":
		priv, err := parsePrivateKey(cfg.PrivateKeyPEM.Value())
		if err != nil {
			return nil, err
		}
		m.privateKey = priv
		m.publicKey = &priv.PublicKey

		if cfg.PublicKeyPEM != "" {
			pub, err := parsePublicKey(cfg.PublicKeyPEM)
			if err != nil {
				return nil, err
			}
			m.publicKey = pub
		}

		if cfg.KeyID == "" {
			return nil, luerr.New(luerr.CodeKeyConfiguration,
				"keys: key id must be configured alongside key material")
		}
		m.keyID = cfg.KeyID

	case cfg.DevelopmentMode:
		priv, err := rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			return nil, luerr.Wrap(err, luerr.CodeKeyConfiguration,
				"keys: failed to generate development key pair")
		}
		m.privateKey = priv
		m.publicKey = &priv.PublicKey
		m.keyID = DevKeyID
		m.ephemeral = true

		logger.Warn("keys: operating with an ephemeral development key pair; "+
			"tokens will not verify across instances or restarts",
			"key_id", DevKeyID,
		)

	default:
		return nil, luerr.New(luerr.CodeKeyConfiguration,
			"keys: no key material configured and development mode is disabled")
	}

	if err := m.probe(); err != nil {
		return nil, err
	}
	return m, nil
}

// probe signs and verifies a fixed plaintext to prove the private and
// public keys form a matched pair.
func (m *Manager) probe() error {
	digest := sha256.Sum256([]byte(keyProbe))

	sig, err := rsa.SignPKCS1v15(rand.Reader, m.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return luerr.Wrap(err, luerr.CodeKeyConfiguration,
			"keys: private key failed probe signing")
	}
	if err := rsa.VerifyPKCS1v15(m.publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return luerr.Wrap(err, luerr.CodeKeyMismatch,
			"keys: public key does not match private key (probe verification failed)")
	}
	return nil
}

// GetPrivateKey returns the RSA private key. Callers must treat the key as
// read-only.
func (m *Manager) GetPrivateKey() *rsa.PrivateKey {
	return m.privateKey
}

// GetPublicKey returns the RSA public key. Callers must treat the key as
// read-only.
func (m *Manager) GetPublicKey() *rsa.PublicKey {
	return m.publicKey
}

// GetKeyId returns the key identifier embedded in token headers and JWKS
// documents. For ephemeral development pairs this is [DevKeyID].
func (m *Manager) GetKeyId() string {
	return m.keyID
}

// Ephemeral reports whether the pair was generated at construction rather
// than loaded from configuration.
func (m *Manager) Ephemeral() bool {
	return m.ephemeral
}

// PublicKeyPEM renders the public key as a PKIX PEM block for the PEM
// publication endpoint.
func (m *Manager) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(m.publicKey)
	if err != nil {
		return "", luerr.Wrap(err, luerr.CodeInternal,
			"keys: failed to marshal public key")
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// parsePrivateKey decodes a base64-wrapped PEM block and parses an RSA
// private key in PKCS#8 or PKCS#1 form.
func parsePrivateKey(b64 string) (*rsa.PrivateKey, error) {
	block, err := decodePEM(b64)
	if err != nil {
		return nil, err
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, luerr.New(luerr.CodeKeyConfiguration,
				"keys: private key is not an RSA key")
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, luerr.Wrap(err, luerr.CodeKeyConfiguration,
			"keys: failed to parse private key (expected PKCS#8 or PKCS#1 PEM)")
	}
	return key, nil
}

// parsePublicKey decodes a base64-wrapped PEM block and parses an RSA
// public key in PKIX or PKCS#1 form.
func parsePublicKey(b64 string) (*rsa.PublicKey, error) {
	block, err := decodePEM(b64)
	if err != nil {
		return nil, err
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, luerr.New(luerr.CodeKeyConfiguration,
				"keys: public key is not an RSA key")
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, luerr.Wrap(err, luerr.CodeKeyConfiguration,
			"keys: failed to parse public key (expected PKIX or PKCS#1 PEM)")
	}
	return key, nil
}

// decodePEM strips the base64 wrapping and decodes the first PEM block.
func decodePEM(b64 string) (*pem.Block, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, luerr.Wrap(err, luerr.CodeKeyConfiguration,
			"keys: key material is not valid base64")
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, luerr.New(luerr.CodeKeyConfiguration,
			"keys: key material does not contain a PEM block")
	}
	return block, nil
}
