package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminasoft/lumina-auth/internal/testutil/fixtures"
	"github.com/luminasoft/lumina-auth/pkg/config"
	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
	"github.com/luminasoft/lumina-auth/pkg/keys"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// testSecret is a 32-byte HS256 secret shared across codec tests.
const testSecret = fixtures.TestHS256Secret

func testKeyManager(t *testing.T) *keys.Manager {
	t.Helper()
	km, err := keys.NewManager(keys.Config{
		DevelopmentMode: true,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return km
}

// testCodec builds an RS256 codec with HS256 fallback and no leeway, so
// expiry tests behave deterministically.
func testCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		RS256Enabled: true,
		HS256Secret:  config.Secret(testSecret),
		Issuer:       "lumina-auth",
		Audience:     "lumina-platform",
	}, testKeyManager(t))
	require.NoError(t, err)
	return c
}

func testClaims() UnifiedClaims {
	return UnifiedClaims{
		Email:        "ada@example.com",
		DisplayName:  "Ada Lovelace",
		Role:         RoleAdmin,
		Username:     "ada",
		AuthProvider: ProviderFirstParty,
		AuthMethod:   MethodPassword,
		SessionID:    "sess-1",
		TenantID:     "tenant-9",
		Permissions:  []string{"reports:read", "reports:write"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-42",
		},
	}
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid rs256",
			cfg:  Config{RS256Enabled: true, Issuer: "i", Audience: "a"},
		},
		{
			name: "valid hs256 only",
			cfg:  Config{HS256Secret: config.Secret(testSecret), Issuer: "i", Audience: "a"},
		},
		{
			name:    "missing issuer",
			cfg:     Config{RS256Enabled: true, Audience: "a"},
			wantErr: true,
		},
		{
			name:    "missing audience",
			cfg:     Config{RS256Enabled: true, Issuer: "i"},
			wantErr: true,
		},
		{
			name:    "short secret",
			cfg:     Config{RS256Enabled: true, HS256Secret: "short", Issuer: "i", Audience: "a"},
			wantErr: true,
		},
		{
			name:    "hs256 mode without secret",
			cfg:     Config{Issuer: "i", Audience: "a"},
			wantErr: true,
		},
		{
			name:    "negative leeway",
			cfg:     Config{RS256Enabled: true, Issuer: "i", Audience: "a", Leeway: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewCodecRequiresKeyManagerInRS256Mode(t *testing.T) {
	_, err := NewCodec(Config{RS256Enabled: true, Issuer: "i", Audience: "a"}, nil)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeKeyConfiguration, luerr.GetCode(err))
}

// ---------------------------------------------------------------------------
// Sign / Verify round trip
// ---------------------------------------------------------------------------

func TestSignVerifyRoundTrip(t *testing.T) {
	c := testCodec(t)
	ctx := context.Background()
	in := testClaims()

	signed, err := c.Sign(ctx, in, TypeAccess)
	require.NoError(t, err)
	assert.Len(t, strings.Split(signed, "."), 3)

	out, err := c.Verify(ctx, signed)
	require.NoError(t, err)

	// Caller-supplied identity fields survive verbatim.
	assert.Equal(t, in.Subject, out.Subject)
	assert.Equal(t, in.Email, out.Email)
	assert.Equal(t, in.DisplayName, out.DisplayName)
	assert.Equal(t, in.Role, out.Role)
	assert.Equal(t, in.Username, out.Username)
	assert.Equal(t, in.AuthProvider, out.AuthProvider)
	assert.Equal(t, in.AuthMethod, out.AuthMethod)
	assert.Equal(t, in.SessionID, out.SessionID)
	assert.Equal(t, in.TenantID, out.TenantID)
	assert.Equal(t, in.Permissions, out.Permissions)

	// Internally stamped fields are present and well-formed.
	assert.Equal(t, TypeAccess, out.Type)
	assert.Equal(t, "lumina-auth", out.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"lumina-platform"}, out.Audience)
	assert.NotEmpty(t, out.ID)
	require.NotNil(t, out.IssuedAt)
	require.NotNil(t, out.ExpiresAt)
	assert.True(t, out.ExpiresAt.After(out.IssuedAt.Time), "exp must be after iat")
	assert.WithinDuration(t, time.Now().Add(DefaultAccessTTL), out.ExpiresAt.Time, time.Minute)
}

func TestSignRefreshDefaultTTL(t *testing.T) {
	c := testCodec(t)
	signed, err := c.Sign(context.Background(), testClaims(), TypeRefresh)
	require.NoError(t, err)

	out, err := c.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, TypeRefresh, out.Type)
	assert.WithinDuration(t, time.Now().Add(DefaultRefreshTTL), out.ExpiresAt.Time, time.Minute)
}

func TestSignStripsCallerControlledFields(t *testing.T) {
	c := testCodec(t)
	in := testClaims()

	// An attacker-supplied exp/jti/type must be discarded and restamped.
	in.ID = "forged-jti"
	in.Type = TypeRefresh
	in.Issuer = "evil-issuer"
	in.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	in.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))

	signed, err := c.Sign(context.Background(), in, TypeAccess)
	require.NoError(t, err)

	out, err := c.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.NotEqual(t, "forged-jti", out.ID)
	assert.Equal(t, TypeAccess, out.Type)
	assert.Equal(t, "lumina-auth", out.Issuer)
	assert.True(t, out.ExpiresAt.After(time.Now()))
}

func TestSignUniqueJTIPerToken(t *testing.T) {
	c := testCodec(t)
	ctx := context.Background()

	a, err := c.Sign(ctx, testClaims(), TypeAccess)
	require.NoError(t, err)
	b, err := c.Sign(ctx, testClaims(), TypeAccess)
	require.NoError(t, err)

	ca, err := c.Verify(ctx, a)
	require.NoError(t, err)
	cb, err := c.Verify(ctx, b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestSignRequiresSubject(t *testing.T) {
	c := testCodec(t)
	_, err := c.Sign(context.Background(), UnifiedClaims{}, TypeAccess)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeValidation, luerr.GetCode(err))
}

func TestSignEmbedsKidOnlyInRS256Mode(t *testing.T) {
	ctx := context.Background()

	rs := testCodec(t)
	signed, err := rs.Sign(ctx, testClaims(), TypeAccess)
	require.NoError(t, err)
	md, err := rs.Metadata(signed)
	require.NoError(t, err)
	assert.Equal(t, "RS256", md.Algorithm)
	assert.Equal(t, keys.DevKeyID, md.KeyID)

	hs, err := NewCodec(Config{
		HS256Secret: config.Secret(testSecret),
		Issuer:      "lumina-auth",
		Audience:    "lumina-platform",
	}, nil)
	require.NoError(t, err)
	signed, err = hs.Sign(ctx, testClaims(), TypeAccess)
	require.NoError(t, err)
	md, err = hs.Metadata(signed)
	require.NoError(t, err)
	assert.Equal(t, "HS256", md.Algorithm)
	assert.Empty(t, md.KeyID, "kid is set only in RS256 mode")
}

// ---------------------------------------------------------------------------
// Verification failures
// ---------------------------------------------------------------------------

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	c := testCodec(t)
	ctx := context.Background()

	signed, err := c.Sign(ctx, testClaims(), TypeAccess)
	require.NoError(t, err)

	// Escalate the role inside the payload segment without re-signing.
	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	decoded["role"] = string(RoleSuperAdmin)
	tampered, err := json.Marshal(decoded)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(tampered)

	_, err = c.Verify(ctx, strings.Join(parts, "."))
	require.Error(t, err)
	assert.Equal(t, luerr.CodeTokenInvalid, luerr.GetCode(err))
}

func TestVerifyExpiredToken(t *testing.T) {
	c := testCodec(t)
	ctx := context.Background()

	signed, err := c.Sign(ctx, testClaims(), TypeAccess, WithTTL(-2*time.Minute))
	require.NoError(t, err)

	_, err = c.Verify(ctx, signed)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeTokenExpired, luerr.GetCode(err))
	structured, ok := luerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "Token expired", structured.Message)

	info, err := c.ExpirationInfo(ctx, signed)
	require.NoError(t, err)
	assert.True(t, info.IsExpired)
	assert.Zero(t, info.SecondsRemaining)
}

func TestVerifyMalformedTokens(t *testing.T) {
	c := testCodec(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"three segments of bad base64", "!!!.@@@.###"},
		{"two segments", "aaaa.bbbb"},
		{"oversized", strings.Repeat("a", maxTokenSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Verify(ctx, tt.token)
			require.Error(t, err)
			assert.Equal(t, luerr.CodeTokenInvalid, luerr.GetCode(err))
		})
	}
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	c := testCodec(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-42",
		"iss": "lumina-auth",
		"aud": "lumina-platform",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	unsigned, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), unsigned)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeTokenInvalid, luerr.GetCode(err))
}

func TestVerifyPinsIssuerAndAudience(t *testing.T) {
	km := testKeyManager(t)
	signer, err := NewCodec(Config{
		RS256Enabled: true,
		Issuer:       "other-issuer",
		Audience:     "other-audience",
	}, km)
	require.NoError(t, err)

	verifier, err := NewCodec(Config{
		RS256Enabled: true,
		Issuer:       "lumina-auth",
		Audience:     "lumina-platform",
	}, km)
	require.NoError(t, err)

	signed, err := signer.Sign(context.Background(), testClaims(), TypeAccess)
	require.NoError(t, err)

	// Same key, wrong issuer/audience: still denied.
	_, err = verifier.Verify(context.Background(), signed)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeTokenInvalid, luerr.GetCode(err))
}

func TestVerifyWrongKeyPair(t *testing.T) {
	signer := testCodec(t)
	otherKM := testKeyManager(t)
	verifier, err := NewCodec(Config{
		RS256Enabled: true,
		Issuer:       "lumina-auth",
		Audience:     "lumina-platform",
	}, otherKM)
	require.NoError(t, err)

	signed, err := signer.Sign(context.Background(), testClaims(), TypeAccess)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signed)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeTokenInvalid, luerr.GetCode(err))
}

// ---------------------------------------------------------------------------
// HS256 fallback
// ---------------------------------------------------------------------------

func TestVerifyFallsBackToHS256(t *testing.T) {
	ctx := context.Background()

	// Legacy issuer: HS256 only.
	legacy, err := NewCodec(Config{
		HS256Secret: config.Secret(testSecret),
		Issuer:      "lumina-auth",
		Audience:    "lumina-platform",
	}, nil)
	require.NoError(t, err)

	legacyToken, err := legacy.Sign(ctx, testClaims(), TypeAccess)
	require.NoError(t, err)

	// Migrated verifier: RS256 primary, same shared secret for fallback.
	migrated := testCodec(t)
	out, err := migrated.Verify(ctx, legacyToken)
	require.NoError(t, err, "HS256-signed token must verify through the fallback path")
	assert.Equal(t, "user-42", out.Subject)
}

func TestVerifyNoFallbackWithoutSecret(t *testing.T) {
	ctx := context.Background()

	legacy, err := NewCodec(Config{
		HS256Secret: config.Secret(testSecret),
		Issuer:      "lumina-auth",
		Audience:    "lumina-platform",
	}, nil)
	require.NoError(t, err)
	legacyToken, err := legacy.Sign(ctx, testClaims(), TypeAccess)
	require.NoError(t, err)

	rs256Only, err := NewCodec(Config{
		RS256Enabled: true,
		Issuer:       "lumina-auth",
		Audience:     "lumina-platform",
	}, testKeyManager(t))
	require.NoError(t, err)

	_, err = rs256Only.Verify(ctx, legacyToken)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeTokenInvalid, luerr.GetCode(err))
}

// ---------------------------------------------------------------------------
// Decode / ExpirationInfo
// ---------------------------------------------------------------------------

func TestDecodeDoesNotVerify(t *testing.T) {
	c := testCodec(t)
	signed, err := c.Sign(context.Background(), testClaims(), TypeAccess)
	require.NoError(t, err)

	// Break the signature; Decode must still return the claims.
	broken := signed[:len(signed)-4] + "AAAA"
	claims, err := c.Decode(broken)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)

	_, err = c.Decode("definitely-not-a-token")
	assert.Error(t, err)
}

func TestExpirationInfoLiveToken(t *testing.T) {
	c := testCodec(t)
	signed, err := c.Sign(context.Background(), testClaims(), TypeAccess, WithTTL(time.Hour))
	require.NoError(t, err)

	info, err := c.ExpirationInfo(context.Background(), signed)
	require.NoError(t, err)
	assert.False(t, info.IsExpired)
	assert.InDelta(t, 3600, info.SecondsRemaining, 60)
}

func TestExpirationInfoInvalidToken(t *testing.T) {
	c := testCodec(t)
	_, err := c.ExpirationInfo(context.Background(), "garbage")
	assert.Error(t, err)
}
