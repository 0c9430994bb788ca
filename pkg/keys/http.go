package keys

import (
	"encoding/json"
	"net/http"
)

// jwksCacheMaxAge is the Cache-Control max-age (in seconds) for the JWKS
// endpoint. Key sets change only on rotation, so verifiers may cache the
// document for at least an hour.
const jwksCacheMaxAge = "3600"

// PEMResponse is the body of the PEM public key endpoint.
type PEMResponse struct {
	KeyID     string `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Algorithm string `json:"algorithm"`
	Format    string `json:"format"`
}

// ValidationResponse is the body of the key-validation diagnostic endpoint.
// KeysMatch reflects a fresh probe signature at request time rather than
// the result cached from construction.
type ValidationResponse struct {
	Valid         bool   `json:"valid"`
	KeyID         string `json:"keyId"`
	Algorithm     string `json:"algorithm"`
	HasPublicKey  bool   `json:"hasPublicKey"`
	HasPrivateKey bool   `json:"hasPrivateKey"`
	KeysMatch     bool   `json:"keysMatch"`
}

// Handler returns an http.Handler exposing the key publication and
// diagnostic endpoints:
//
//	GET /.well-known/jwks.json  JWKS document, cacheable for one hour
//	GET /public-key             PEM public key with key id and algorithm
//	GET /validate               key pair diagnostic
//
// Mount it wherever the composition layer serves unauthenticated metadata:
//
//	mux.Handle("/auth/keys/", http.StripPrefix("/auth/keys", manager.Handler()))
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", m.handleJWKS)
	mux.HandleFunc("GET /public-key", m.handlePEM)
	mux.HandleFunc("GET /validate", m.handleValidate)
	return mux
}

func (m *Manager) handleJWKS(w http.ResponseWriter, r *http.Request) {
	doc, err := m.JWKS()
	if err != nil {
		http.Error(w, "failed to render key set", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age="+jwksCacheMaxAge)
	_, _ = w.Write(doc)
}

func (m *Manager) handlePEM(w http.ResponseWriter, r *http.Request) {
	pemStr, err := m.PublicKeyPEM()
	if err != nil {
		http.Error(w, "failed to render public key", http.StatusInternalServerError)
		return
	}
	writeJSON(w, PEMResponse{
		KeyID:     m.keyID,
		PublicKey: pemStr,
		Algorithm: "RS256",
		Format:    "PEM",
	})
}

func (m *Manager) handleValidate(w http.ResponseWriter, r *http.Request) {
	match := m.probe() == nil
	writeJSON(w, ValidationResponse{
		Valid:         match,
		KeyID:         m.keyID,
		Algorithm:     "RS256",
		HasPublicKey:  m.publicKey != nil,
		HasPrivateKey: m.privateKey != nil,
		KeysMatch:     match,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
