package keys

import (
	"encoding/json"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
)

// JWKS renders the public key as a JSON Web Key Set document:
//
//	{"keys": [{"kty": "RSA", "n": ..., "e": ..., "kid": ..., "alg": "RS256", "use": "sig"}]}
//
// External verifiers consume this document to validate RS256 tokens
// without access to the private key. The set always contains exactly one
// key; during rotation a deployment serves the union of old and new sets
// at the edge.
func (m *Manager) JWKS() ([]byte, error) {
	key, err := jwk.FromRaw(m.publicKey)
	if err != nil {
		return nil, luerr.Wrap(err, luerr.CodeInternal,
			"keys: failed to build JWK from public key")
	}
	if err := key.Set(jwk.KeyIDKey, m.keyID); err != nil {
		return nil, luerr.Wrap(err, luerr.CodeInternal, "keys: failed to set kid")
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, luerr.Wrap(err, luerr.CodeInternal, "keys: failed to set alg")
	}
	if err := key.Set(jwk.KeyUsageKey, string(jwk.ForSignature)); err != nil {
		return nil, luerr.Wrap(err, luerr.CodeInternal, "keys: failed to set use")
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, luerr.Wrap(err, luerr.CodeInternal, "keys: failed to add key to set")
	}

	doc, err := json.Marshal(set)
	if err != nil {
		return nil, luerr.Wrap(err, luerr.CodeInternal,
			"keys: failed to marshal JWKS document")
	}
	return doc, nil
}
