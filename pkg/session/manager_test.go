package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/luminasoft/lumina-auth/internal/testutil/fixtures"
	"github.com/luminasoft/lumina-auth/pkg/config"
	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
	"github.com/luminasoft/lumina-auth/pkg/token"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func testManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	codec, err := token.NewCodec(token.Config{
		HS256Secret: config.Secret(fixtures.TestHS256Secret),
		Issuer:      fixtures.TestIssuer,
		Audience:    fixtures.TestAudience,
	}, nil)
	require.NoError(t, err)

	store := NewMemoryStore()
	mgr, err := NewManager(codec, store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return mgr, store
}

func loginClaims(userID string) token.UnifiedClaims {
	c := token.UnifiedClaims{
		Email:        userID + "@example.com",
		Role:         token.RoleUser,
		AuthProvider: token.ProviderFirstParty,
		AuthMethod:   token.MethodPassword,
	}
	c.Subject = userID
	return c
}

// faultStore wraps a Store and injects errors per method.
type faultStore struct {
	Store
	touchErr   error
	accessErr  error
	refreshErr error
	rotateErr  error
}

func (f *faultStore) TouchLastAccessed(ctx context.Context, id string, at time.Time) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	return f.Store.TouchLastAccessed(ctx, id, at)
}

func (f *faultStore) GetByAccessToken(ctx context.Context, tok string) (*Session, error) {
	if f.accessErr != nil {
		return nil, f.accessErr
	}
	return f.Store.GetByAccessToken(ctx, tok)
}

func (f *faultStore) GetByRefreshToken(ctx context.Context, tok string) (*Session, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.Store.GetByRefreshToken(ctx, tok)
}

func (f *faultStore) RotateRefresh(ctx context.Context, oldID string, next *Session) error {
	if f.rotateErr != nil {
		return f.rotateErr
	}
	return f.Store.RotateRefresh(ctx, oldID, next)
}

// ---------------------------------------------------------------------------
// Create / Validate
// ---------------------------------------------------------------------------

func TestCreateAndValidate(t *testing.T) {
	mgr, store := testManager(t)
	ctx := context.Background()

	pair, sess, err := mgr.Create(ctx, loginClaims("user-1"), ClientContext{
		UserAgent: fixtures.TestUserAgent,
		IPAddress: fixtures.TestIPAddress,
	})
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Positive(t, pair.ExpiresIn)
	assert.Equal(t, sess.ID, pair.Session.ID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, 1, store.Len())

	gotSess, gotClaims, err := mgr.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, gotSess.ID)
	assert.Equal(t, "user-1", gotClaims.Subject)
	assert.Equal(t, sess.ID, gotClaims.SessionID, "claims carry the owning session id")
	assert.Equal(t, token.TypeAccess, gotClaims.Type)
}

func TestValidateUnknownToken(t *testing.T) {
	mgr, _ := testManager(t)

	// Signed by the same codec but never bound to a session.
	codec, err := token.NewCodec(token.Config{
		HS256Secret: config.Secret(fixtures.TestHS256Secret),
		Issuer:      fixtures.TestIssuer,
		Audience:    fixtures.TestAudience,
	}, nil)
	require.NoError(t, err)
	orphan, err := codec.Sign(context.Background(), loginClaims("user-2"), token.TypeAccess)
	require.NoError(t, err)

	_, _, err = mgr.Validate(context.Background(), orphan)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeSessionInactive, luerr.GetCode(err))
}

func TestValidateGarbageToken(t *testing.T) {
	mgr, _ := testManager(t)
	_, _, err := mgr.Validate(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, luerr.CodeTokenInvalid, luerr.GetCode(err))
}

func TestValidateRevokedSession(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	pair, sess, err := mgr.Create(ctx, loginClaims("user-3"), ClientContext{})
	require.NoError(t, err)
	require.NoError(t, mgr.Revoke(ctx, sess.ID))

	// Token signature still verifies, but the session is dead.
	_, _, err = mgr.Validate(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeSessionInactive, luerr.GetCode(err))
}

func TestValidateTouchFailureIsBestEffort(t *testing.T) {
	mgr, store := testManager(t)
	ctx := context.Background()

	pair, _, err := mgr.Create(ctx, loginClaims("user-4"), ClientContext{})
	require.NoError(t, err)

	mgr.store = &faultStore{Store: store, touchErr: errors.New("connection reset")}
	_, _, err = mgr.Validate(ctx, pair.AccessToken)
	assert.NoError(t, err, "a lost last-accessed update must not fail validation")
}

func TestValidateStoreFailure(t *testing.T) {
	mgr, store := testManager(t)
	ctx := context.Background()

	pair, _, err := mgr.Create(ctx, loginClaims("user-5"), ClientContext{})
	require.NoError(t, err)

	mgr.store = &faultStore{Store: store, accessErr: errors.New("connection refused")}
	_, _, err = mgr.Validate(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeSessionStore, luerr.GetCode(err))

	structured, ok := luerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "session operation failed", structured.Message,
		"store internals must not leak into the message")
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestRefreshRotatesSession(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	pair, oldSess, err := mgr.Create(ctx, loginClaims("user-6"), ClientContext{})
	require.NoError(t, err)

	newPair, newSess, err := mgr.Refresh(ctx, pair.RefreshToken, ClientContext{})
	require.NoError(t, err)
	assert.NotEqual(t, oldSess.ID, newSess.ID)
	assert.NotEqual(t, pair.AccessToken, newPair.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)
	assert.Equal(t, "user-6", newSess.UserID, "identity survives rotation")

	// New pair validates.
	_, claims, err := mgr.Validate(ctx, newPair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-6", claims.Subject)

	// Old access token fails session liveness even though its signature
	// is still good.
	_, _, err = mgr.Validate(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeSessionInactive, luerr.GetCode(err))

	// Old refresh token is single-use.
	_, _, err = mgr.Refresh(ctx, pair.RefreshToken, ClientContext{})
	require.Error(t, err)
	assert.Equal(t, luerr.CodeSessionInactive, luerr.GetCode(err))
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	pair, _, err := mgr.Create(ctx, loginClaims("user-7"), ClientContext{})
	require.NoError(t, err)

	_, _, err = mgr.Refresh(ctx, pair.AccessToken, ClientContext{})
	require.Error(t, err)
	assert.Equal(t, luerr.CodeTokenWrongType, luerr.GetCode(err))
}

// TestSessionOutlivesAccessToken pins the session row's lifetime to the
// refresh token. The row gates refresh eligibility, so binding it to the
// shorter access TTL would break every refresh once the access token
// lapses.
func TestSessionOutlivesAccessToken(t *testing.T) {
	const (
		accessTTL  = 20 * time.Millisecond
		refreshTTL = time.Hour
	)
	codec, err := token.NewCodec(token.Config{
		HS256Secret: config.Secret(fixtures.TestHS256Secret),
		Issuer:      fixtures.TestIssuer,
		Audience:    fixtures.TestAudience,
		AccessTTL:   accessTTL,
		RefreshTTL:  refreshTTL,
	}, nil)
	require.NoError(t, err)
	mgr, err := NewManager(codec, NewMemoryStore(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	ctx := context.Background()

	pair, sess, err := mgr.Create(ctx, loginClaims("user-20"), ClientContext{})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(refreshTTL), sess.ExpiresAt, time.Minute,
		"session expiry tracks the refresh token")
	assert.LessOrEqual(t, pair.ExpiresIn, int64(accessTTL/time.Second)+1,
		"expiresIn reports the access token lifetime")

	time.Sleep(3 * accessTTL)

	_, _, err = mgr.Validate(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.Equal(t, luerr.CodeTokenExpired, luerr.GetCode(err))

	newPair, _, err := mgr.Refresh(ctx, pair.RefreshToken, ClientContext{})
	require.NoError(t, err, "refresh must work after the access token expires")
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)
}

func TestRefreshConcurrentSingleUse(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	pair, _, err := mgr.Create(ctx, loginClaims("user-8"), ClientContext{})
	require.NoError(t, err)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := mgr.Refresh(ctx, pair.RefreshToken, ClientContext{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				assert.Equal(t, luerr.CodeSessionInactive, luerr.GetCode(err))
				failures++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one concurrent refresh may win")
	assert.Equal(t, attempts-1, failures)

	// The spent refresh token stays dead afterwards.
	_, _, err = mgr.Refresh(ctx, pair.RefreshToken, ClientContext{})
	assert.Error(t, err)
}

func TestRefreshRotationConflictMapsToInvalidSession(t *testing.T) {
	mgr, store := testManager(t)
	ctx := context.Background()

	pair, _, err := mgr.Create(ctx, loginClaims("user-9"), ClientContext{})
	require.NoError(t, err)

	mgr.store = &faultStore{Store: store, rotateErr: ErrRotationConflict}
	_, _, err = mgr.Refresh(ctx, pair.RefreshToken, ClientContext{})
	require.Error(t, err)
	assert.Equal(t, luerr.CodeSessionInactive, luerr.GetCode(err))
}

// ---------------------------------------------------------------------------
// Revocation / cleanup
// ---------------------------------------------------------------------------

func TestRevokeIsIdempotent(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	_, sess, err := mgr.Create(ctx, loginClaims("user-10"), ClientContext{})
	require.NoError(t, err)

	require.NoError(t, mgr.Revoke(ctx, sess.ID))
	assert.NoError(t, mgr.Revoke(ctx, sess.ID), "revoking twice is a no-op")
}

func TestRevokeAllForUser(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		pair, _, err := mgr.Create(ctx, loginClaims("user-11"), ClientContext{})
		require.NoError(t, err)
		pairs = append(pairs, pair)
	}
	otherPair, _, err := mgr.Create(ctx, loginClaims("user-12"), ClientContext{})
	require.NoError(t, err)

	n, err := mgr.RevokeAllForUser(ctx, "user-11", "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	for _, pair := range pairs {
		_, _, err := mgr.Validate(ctx, pair.AccessToken)
		assert.Error(t, err)
	}
	// Other users are untouched.
	_, _, err = mgr.Validate(ctx, otherPair.AccessToken)
	assert.NoError(t, err)
}

func TestRevokeAllForUserExcludesCurrentSession(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	keepPair, keepSess, err := mgr.Create(ctx, loginClaims("user-13"), ClientContext{})
	require.NoError(t, err)
	dropPair, _, err := mgr.Create(ctx, loginClaims("user-13"), ClientContext{})
	require.NoError(t, err)

	n, err := mgr.RevokeAllForUser(ctx, "user-13", keepSess.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, _, err = mgr.Validate(ctx, keepPair.AccessToken)
	assert.NoError(t, err)
	_, _, err = mgr.Validate(ctx, dropPair.AccessToken)
	assert.Error(t, err)
}

func TestCleanupExpired(t *testing.T) {
	mgr, store := testManager(t)
	ctx := context.Background()

	_, liveSess, err := mgr.Create(ctx, loginClaims("user-14"), ClientContext{})
	require.NoError(t, err)

	// Plant one expired active session and one revoked-then-expired
	// session directly in the store. Both must be swept, or revoked
	// sessions would accumulate past their expiry.
	expired := &Session{
		ID:           "expired-1",
		UserID:       "user-14",
		AccessToken:  "expired-access",
		RefreshToken: "expired-refresh",
		IsActive:     true,
		ExpiresAt:    time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.Create(ctx, expired))
	revoked := &Session{
		ID:           "revoked-1",
		UserID:       "user-14",
		AccessToken:  "revoked-access",
		RefreshToken: "revoked-refresh",
		IsActive:     false,
		ExpiresAt:    time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.Create(ctx, revoked))

	n, err := mgr.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 1, store.Len())

	_, err = store.GetByAccessToken(ctx, "expired-access")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByAccessToken(ctx, "revoked-access")
	assert.ErrorIs(t, err, ErrNotFound)

	live, err := store.GetByAccessToken(ctx, liveSess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, liveSess.ID, live.ID)
}

// ---------------------------------------------------------------------------
// Session model
// ---------------------------------------------------------------------------

func TestSessionValid(t *testing.T) {
	tests := []struct {
		name string
		sess *Session
		want bool
	}{
		{"nil", nil, false},
		{"active and live", &Session{IsActive: true, ExpiresAt: time.Now().Add(time.Hour)}, true},
		{"inactive", &Session{IsActive: false, ExpiresAt: time.Now().Add(time.Hour)}, false},
		{"expired", &Session{IsActive: true, ExpiresAt: time.Now().Add(-time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sess.Valid())
		})
	}
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

func TestManagerEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// The manager captures the tracer at construction, so it must be
	// built after the provider swap.
	mgr, _ := testManager(t)
	ctx := context.Background()

	pair, _, err := mgr.Create(ctx, loginClaims("traced-user"), ClientContext{})
	require.NoError(t, err)
	_, _, err = mgr.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "session.Create")
	assert.Contains(t, names, "session.Validate")
}

func TestNewManagerValidation(t *testing.T) {
	codec, err := token.NewCodec(token.Config{
		HS256Secret: config.Secret(fixtures.TestHS256Secret),
		Issuer:      "i",
		Audience:    "a",
	}, nil)
	require.NoError(t, err)

	_, err = NewManager(nil, NewMemoryStore())
	assert.Error(t, err)
	_, err = NewManager(codec, nil)
	assert.Error(t, err)
}
