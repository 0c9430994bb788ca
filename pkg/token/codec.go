package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luminasoft/lumina-auth/pkg/config"
	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
	"github.com/luminasoft/lumina-auth/pkg/keys"
)

// tracerName is the OpenTelemetry instrumentation scope name for token
// operations. It follows the Go module path convention for OTel
// instrumentation libraries.
const tracerName = "github.com/luminasoft/lumina-auth/pkg/token"

// maxTokenSize is the maximum accepted size for a token string (8 KB).
// Larger tokens are rejected to prevent resource exhaustion.
const maxTokenSize = 8192

// minSecretBytes is the minimum length of the HS256 shared secret.
const minSecretBytes = 32

// Config holds the signing and verification policy for a [Codec]. The
// policy is an explicit constructed value, never ambient process state, so
// codecs with different policies can coexist (e.g., in tests).
type Config struct {
	// RS256Enabled selects RS256 signing with the key manager's RSA pair.
	// When false, tokens are signed and verified with HS256 only.
	RS256Enabled bool `json:"rs256_enabled" env:"RS256_ENABLED" envDefault:"true" yaml:"rs256_enabled"`

	// HS256Secret is the shared secret for HS256 signing (when RS256 is
	// disabled) and for fallback verification during a migration between
	// signing schemes. Must be at least 32 bytes when set.
	HS256Secret config.Secret `json:"-" env:"HS256_SECRET" yaml:"hs256_secret"`

	// Issuer is stamped into every token and pinned during verification.
	Issuer string `json:"issuer" env:"ISSUER" envDefault:"lumina-auth" yaml:"issuer"`

	// Audience is stamped into every token and pinned during verification.
	Audience string `json:"audience" env:"AUDIENCE" envDefault:"lumina-platform" yaml:"audience"`

	// AccessTTL is the default access token lifetime. Defaults to 3 hours.
	AccessTTL time.Duration `json:"access_ttl" env:"ACCESS_TTL" envDefault:"3h" yaml:"access_ttl"`

	// RefreshTTL is the default refresh token lifetime. Defaults to 7 days.
	RefreshTTL time.Duration `json:"refresh_ttl" env:"REFRESH_TTL" envDefault:"168h" yaml:"refresh_ttl"`

	// Leeway is the clock-skew tolerance applied during verification.
	Leeway time.Duration `json:"leeway" env:"LEEWAY" envDefault:"30s" yaml:"leeway"`
}

// Validate checks the configuration for logical correctness.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return luerr.Validation("token: issuer must not be empty")
	}
	if c.Audience == "" {
		return luerr.Validation("token: audience must not be empty")
	}
	if c.AccessTTL < 0 || c.RefreshTTL < 0 {
		return luerr.Validation("token: token lifetimes must be non-negative")
	}
	if c.Leeway < 0 {
		return luerr.Validation("token: leeway must be non-negative")
	}
	if secret := c.HS256Secret.Value(); secret != "" && len(secret) < minSecretBytes {
		return luerr.Validationf("token: hs256 secret must be at least %d bytes", minSecretBytes)
	}
	if !c.RS256Enabled && c.HS256Secret.Value() == "" {
		return luerr.Validation("token: hs256 secret is required when rs256 is disabled")
	}
	return nil
}

// Codec signs and verifies compact signed tokens carrying [UnifiedClaims].
// Construct with [NewCodec]. A Codec is immutable and safe for concurrent
// use.
type Codec struct {
	cfg    Config
	keys   *keys.Manager
	tracer trace.Tracer
}

// NewCodec creates a Codec with the given policy. keyManager is required
// when cfg.RS256Enabled is set and ignored otherwise.
func NewCodec(cfg Config, keyManager *keys.Manager) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RS256Enabled && keyManager == nil {
		return nil, luerr.New(luerr.CodeKeyConfiguration,
			"token: rs256 mode requires a key manager")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Codec{
		cfg:    cfg,
		keys:   keyManager,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// SignOption customizes a single Sign call.
type SignOption func(*signOptions)

type signOptions struct {
	ttl time.Duration
}

// WithTTL overrides the default lifetime for the issued token.
func WithTTL(ttl time.Duration) SignOption {
	return func(o *signOptions) { o.ttl = ttl }
}

// Sign stamps the internally controlled fields onto the claims and returns
// the signed compact token string.
//
// The codec owns iss, aud, type, iat, jti, and exp: any caller-supplied
// values for those fields are discarded, preventing forgery of
// internally-controlled fields. The caller's identity fields (sub, email,
// role, provider, session id, ...) are preserved verbatim. sub must be set.
//
// In RS256 mode the token header carries the active key id so verifiers
// can select the correct public key during rotation.
func (c *Codec) Sign(ctx context.Context, claims UnifiedClaims, tokenType Type, opts ...SignOption) (string, error) {
	_, span := c.tracer.Start(ctx, "token.Sign",
		trace.WithAttributes(attribute.String("token.type", string(tokenType))))
	defer span.End()

	if claims.Subject == "" {
		err := luerr.Validation("token: subject must be set before signing")
		recordSpanError(span, err)
		return "", err
	}

	var options signOptions
	for _, opt := range opts {
		opt(&options)
	}

	ttl := options.ttl
	if ttl <= 0 {
		if tokenType == TypeRefresh {
			ttl = c.cfg.RefreshTTL
		} else {
			ttl = c.cfg.AccessTTL
		}
	}

	now := time.Now()
	claims.Type = tokenType
	claims.Issuer = c.cfg.Issuer
	claims.Audience = jwt.ClaimStrings{c.cfg.Audience}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.ID = uuid.NewString()

	var (
		signed string
		err    error
	)
	if c.cfg.RS256Enabled {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
		tok.Header["kid"] = c.keys.GetKeyId()
		signed, err = tok.SignedString(c.keys.GetPrivateKey())
	} else {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
		signed, err = tok.SignedString([]byte(c.cfg.HS256Secret.Value()))
	}
	if err != nil {
		wrapped := luerr.Wrap(err, luerr.CodeSigning, "token: signing failed")
		recordSpanError(span, wrapped)
		return "", wrapped
	}
	return signed, nil
}

// Verify checks the token's signature and registered claims and returns
// the verified claims.
//
// In RS256 mode the token is first verified against the public key with
// the accepted algorithm pinned to RS256; on failure (other than
// expiration) verification falls back to HS256 against the shared secret
// when one is configured. This is the only implicit algorithm-negotiation
// path: the codec chooses which algorithms to attempt, never the token's
// own alg header.
//
// Failures are classified: an expired signature yields "Token expired"
// ([luerr.CodeTokenExpired]); a malformed token or signature mismatch
// yields "Invalid token" ([luerr.CodeTokenInvalid]); anything else passes
// through the underlying error text.
func (c *Codec) Verify(ctx context.Context, tokenStr string) (*UnifiedClaims, error) {
	_, span := c.tracer.Start(ctx, "token.Verify")
	defer span.End()

	if tokenStr == "" || len(tokenStr) > maxTokenSize {
		err := luerr.TokenInvalid()
		recordSpanError(span, err)
		return nil, err
	}

	if !c.cfg.RS256Enabled {
		claims, err := c.verifyHS256(tokenStr)
		if err != nil {
			err = classifyVerifyError(err)
			recordSpanError(span, err)
			return nil, err
		}
		span.SetAttributes(attribute.String("token.alg", "HS256"))
		return claims, nil
	}

	claims, rsErr := c.verifyRS256(tokenStr)
	if rsErr == nil {
		span.SetAttributes(attribute.String("token.alg", "RS256"))
		return claims, nil
	}

	// An expired error means the RS256 signature itself verified; do not
	// mask it by falling back.
	if errors.Is(rsErr, jwt.ErrTokenExpired) {
		err := classifyVerifyError(rsErr)
		recordSpanError(span, err)
		return nil, err
	}

	if c.cfg.HS256Secret.Value() != "" {
		claims, hsErr := c.verifyHS256(tokenStr)
		if hsErr == nil {
			span.SetAttributes(
				attribute.String("token.alg", "HS256"),
				attribute.Bool("token.fallback", true),
			)
			return claims, nil
		}
		if errors.Is(hsErr, jwt.ErrTokenExpired) {
			err := classifyVerifyError(hsErr)
			recordSpanError(span, err)
			return nil, err
		}
	}

	err := classifyVerifyError(rsErr)
	recordSpanError(span, err)
	return nil, err
}

// verifyRS256 verifies against the public key with the accepted algorithm
// pinned to RS256 and issuer/audience pinning.
func (c *Codec) verifyRS256(tokenStr string) (*UnifiedClaims, error) {
	return c.parseVerified(tokenStr, []string{"RS256"}, func(*jwt.Token) (any, error) {
		return c.keys.GetPublicKey(), nil
	})
}

// verifyHS256 verifies against the shared secret with the accepted
// algorithm pinned to HS256.
func (c *Codec) verifyHS256(tokenStr string) (*UnifiedClaims, error) {
	secret := c.cfg.HS256Secret.Value()
	if secret == "" {
		return nil, luerr.New(luerr.CodeSigning, "token: no hs256 secret configured")
	}
	return c.parseVerified(tokenStr, []string{"HS256"}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
}

func (c *Codec) parseVerified(tokenStr string, methods []string, keyFunc jwt.Keyfunc) (*UnifiedClaims, error) {
	claims := &UnifiedClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc,
		jwt.WithValidMethods(methods),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithAudience(c.cfg.Audience),
		jwt.WithLeeway(c.cfg.Leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Decode returns the token's claims without verifying the signature.
// Diagnostics only; never use the result for authorization decisions.
func (c *Codec) Decode(tokenStr string) (*UnifiedClaims, error) {
	claims := &UnifiedClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, luerr.TokenInvalid()
	}
	return claims, nil
}

// Metadata describes a token's unverified header fields, used for routing
// decisions (e.g., selecting a verification key during rotation).
type Metadata struct {
	Algorithm string
	KeyID     string
}

// Metadata extracts the algorithm and key id from the token header without
// verifying the signature.
func (c *Codec) Metadata(tokenStr string) (Metadata, error) {
	tok, _, err := jwt.NewParser().ParseUnverified(tokenStr, &UnifiedClaims{})
	if err != nil {
		return Metadata{}, luerr.TokenInvalid()
	}
	md := Metadata{}
	if alg, ok := tok.Header["alg"].(string); ok {
		md.Algorithm = alg
	}
	if kid, ok := tok.Header["kid"].(string); ok {
		md.KeyID = kid
	}
	return md, nil
}

// ExpirationInfo reports a token's expiration state as derived from a full
// [Codec.Verify] call.
type ExpirationInfo struct {
	IsExpired        bool
	SecondsRemaining int64
}

// ExpirationInfo verifies the token and reports whether it has expired and
// how many seconds remain. An expired-classified verification failure
// yields {IsExpired: true, SecondsRemaining: 0} with no error; any other
// verification failure is returned as an error.
func (c *Codec) ExpirationInfo(ctx context.Context, tokenStr string) (ExpirationInfo, error) {
	claims, err := c.Verify(ctx, tokenStr)
	if err != nil {
		if luerr.HasCode(err, luerr.CodeTokenExpired) {
			return ExpirationInfo{IsExpired: true}, nil
		}
		return ExpirationInfo{}, err
	}

	remaining := int64(0)
	if claims.ExpiresAt != nil {
		remaining = int64(time.Until(claims.ExpiresAt.Time).Seconds())
		if remaining < 0 {
			remaining = 0
		}
	}
	return ExpirationInfo{IsExpired: false, SecondsRemaining: remaining}, nil
}

// classifyVerifyError maps golang-jwt errors onto the module's error
// taxonomy. Errors already carrying a code pass through unchanged.
func classifyVerifyError(err error) error {
	if err == nil {
		return nil
	}
	if structured, ok := luerr.AsError(err); ok {
		return structured
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return luerr.Wrap(err, luerr.CodeTokenExpired, "Token expired")
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return luerr.Wrap(err, luerr.CodeTokenInvalid, "Invalid token")
	}
	// Pass through the underlying error text for anything unrecognized.
	return luerr.Wrap(err, luerr.CodeAuthentication, err.Error())
}

// recordSpanError records a non-nil error on the span and sets an error
// status, keeping span handling consistent across codec operations.
func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
