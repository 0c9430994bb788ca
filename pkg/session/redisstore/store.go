// Package redisstore implements the session store on Redis.
//
// Each session is stored as a JSON value with secondary keys indexing the
// access and refresh token strings, plus a per-user set for bulk
// revocation. Refresh rotation runs as a single Lua script so the
// deactivate-old/insert-new step is atomic server-side: of two concurrent
// rotations of the same session exactly one succeeds, regardless of how
// many store instances share the Redis deployment.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	luerr "github.com/luminasoft/lumina-auth/pkg/errors"
	"github.com/luminasoft/lumina-auth/pkg/session"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/luminasoft/lumina-auth/pkg/session/redisstore"

// defaultPrefix namespaces all keys written by the store.
const defaultPrefix = "lumina:auth"

// recordGrace keeps session records readable for a while after their
// logical expiry so that lookups distinguish "expired" from "never
// existed" until Redis reclaims the key.
const recordGrace = time.Hour

// rotateScript is the atomic rotation step. KEYS[1] is the old session
// record, KEYS[2..4] the new session record and its token indexes, KEYS[5]
// the owner's session set. The active flag inside the old record is the
// compare-and-swap guard.
//
// Returns 1 on success, 0 when the old record is gone, -1 when it was
// already inactive.
var rotateScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local old = cjson.decode(raw)
if not old.is_active then
  return -1
end
old.is_active = false
old.updated_at = ARGV[1]
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], cjson.encode(old), 'PX', ttl)
else
  redis.call('SET', KEYS[1], cjson.encode(old))
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('SET', KEYS[3], ARGV[4], 'PX', ARGV[3])
redis.call('SET', KEYS[4], ARGV[4], 'PX', ARGV[3])
redis.call('SADD', KEYS[5], ARGV[4])
return 1
`)

// record is the stored JSON shape. Timestamps are RFC 3339 strings so the
// rotation script can rewrite updated_at without understanding Go's
// time encoding.
type record struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	UserAgent      string `json:"user_agent,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`
	IsActive       bool   `json:"is_active"`
	ExpiresAt      string `json:"expires_at"`
	LastAccessedAt string `json:"last_accessed_at"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toRecord(s *session.Session) record {
	return record{
		ID:             s.ID,
		UserID:         s.UserID,
		AccessToken:    s.AccessToken,
		RefreshToken:   s.RefreshToken,
		UserAgent:      s.UserAgent,
		IPAddress:      s.IPAddress,
		IsActive:       s.IsActive,
		ExpiresAt:      s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		LastAccessedAt: s.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r record) toSession() (*session.Session, error) {
	parse := func(v string) (time.Time, error) {
		if v == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, v)
	}
	expiresAt, err := parse(r.ExpiresAt)
	if err != nil {
		return nil, err
	}
	lastAccessed, err := parse(r.LastAccessedAt)
	if err != nil {
		return nil, err
	}
	createdAt, err := parse(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parse(r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &session.Session{
		ID:             r.ID,
		UserID:         r.UserID,
		AccessToken:    r.AccessToken,
		RefreshToken:   r.RefreshToken,
		UserAgent:      r.UserAgent,
		IPAddress:      r.IPAddress,
		IsActive:       r.IsActive,
		ExpiresAt:      expiresAt,
		LastAccessedAt: lastAccessed,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

// Store is a Redis-backed session store.
type Store struct {
	client redis.UniversalClient
	prefix string
	tracer trace.Tracer
}

var _ session.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New creates a session store on the given Redis client. The client's
// lifecycle stays with the caller.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) sessionKey(id string) string    { return s.prefix + ":session:" + id }
func (s *Store) accessKey(token string) string  { return s.prefix + ":access:" + token }
func (s *Store) refreshKey(token string) string { return s.prefix + ":refresh:" + token }
func (s *Store) userKey(userID string) string   { return s.prefix + ":user:" + userID }

// recordTTL keeps token indexes and records alive until logical expiry
// plus a grace window.
func recordTTL(s *session.Session) time.Duration {
	ttl := time.Until(s.ExpiresAt) + recordGrace
	if ttl < recordGrace {
		ttl = recordGrace
	}
	return ttl
}

func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	ctx, span := s.startSpan(ctx, "Create")
	defer span.End()

	payload, err := json.Marshal(toRecord(sess))
	if err != nil {
		return s.finish(span, err)
	}
	ttl := recordTTL(sess)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), payload, ttl)
		pipe.Set(ctx, s.accessKey(sess.AccessToken), sess.ID, ttl)
		pipe.Set(ctx, s.refreshKey(sess.RefreshToken), sess.ID, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		return nil
	})
	return s.finish(span, err)
}

func (s *Store) GetByAccessToken(ctx context.Context, accessToken string) (*session.Session, error) {
	ctx, span := s.startSpan(ctx, "GetByAccessToken")
	defer span.End()
	return s.getByIndex(ctx, span, s.accessKey(accessToken))
}

func (s *Store) GetByRefreshToken(ctx context.Context, refreshToken string) (*session.Session, error) {
	ctx, span := s.startSpan(ctx, "GetByRefreshToken")
	defer span.End()
	return s.getByIndex(ctx, span, s.refreshKey(refreshToken))
}

func (s *Store) getByIndex(ctx context.Context, span trace.Span, indexKey string) (*session.Session, error) {
	id, err := s.client.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, session.ErrNotFound)
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, s.finish(span, err)
	}
	return s.getByID(ctx, span, id)
}

func (s *Store) getByID(ctx context.Context, span trace.Span, id string) (*session.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, session.ErrNotFound)
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, s.finish(span, err)
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, s.finish(span, err)
	}
	sess, err := rec.toSession()
	if err != nil {
		return nil, s.finish(span, err)
	}
	return sess, nil
}

func (s *Store) TouchLastAccessed(ctx context.Context, sessionID string, at time.Time) error {
	ctx, span := s.startSpan(ctx, "TouchLastAccessed")
	defer span.End()

	return s.finish(span, s.updateRecord(ctx, sessionID, func(rec *record) {
		rec.LastAccessedAt = at.UTC().Format(time.RFC3339Nano)
		rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}))
}

func (s *Store) Deactivate(ctx context.Context, sessionID string) error {
	ctx, span := s.startSpan(ctx, "Deactivate",
		attribute.String("session.id", sessionID))
	defer span.End()

	return s.finish(span, s.updateRecord(ctx, sessionID, func(rec *record) {
		if rec.IsActive {
			rec.IsActive = false
			rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		}
	}))
}

// updateRecord rewrites a session record in place, preserving its TTL.
// Updates are read-modify-write; the only operation needing a server-side
// atomic step is rotation, which has its own script.
func (s *Store) updateRecord(ctx context.Context, sessionID string, mutate func(*record)) error {
	key := s.sessionKey(sessionID)
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return session.ErrNotFound
	}
	if err != nil {
		return err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return err
	}
	mutate(&rec)
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, payload, redis.KeepTTL).Err()
}

func (s *Store) DeactivateAllForUser(ctx context.Context, userID, excludeSessionID string) (int64, error) {
	ctx, span := s.startSpan(ctx, "DeactivateAllForUser",
		attribute.String("user.id", userID))
	defer span.End()

	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, s.finish(span, err)
	}

	var n int64
	for _, id := range ids {
		if id == excludeSessionID {
			continue
		}
		var flipped bool
		err := s.updateRecord(ctx, id, func(rec *record) {
			if rec.IsActive {
				rec.IsActive = false
				rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
				flipped = true
			}
		})
		if errors.Is(err, session.ErrNotFound) {
			// Record already reclaimed; drop the stale set member.
			s.client.SRem(ctx, s.userKey(userID), id)
			continue
		}
		if err != nil {
			return n, s.finish(span, err)
		}
		if flipped {
			n++
		}
	}
	span.SetAttributes(attribute.Int64("sessions.revoked", n))
	return n, nil
}

func (s *Store) RotateRefresh(ctx context.Context, oldSessionID string, next *session.Session) error {
	ctx, span := s.startSpan(ctx, "RotateRefresh")
	defer span.End()

	payload, err := json.Marshal(toRecord(next))
	if err != nil {
		return s.finish(span, err)
	}

	res, err := rotateScript.Run(ctx, s.client,
		[]string{
			s.sessionKey(oldSessionID),
			s.sessionKey(next.ID),
			s.accessKey(next.AccessToken),
			s.refreshKey(next.RefreshToken),
			s.userKey(next.UserID),
		},
		time.Now().UTC().Format(time.RFC3339Nano),
		string(payload),
		recordTTL(next).Milliseconds(),
		next.ID,
	).Int()
	if err != nil {
		return s.finish(span, err)
	}
	switch res {
	case 1:
		span.SetStatus(codes.Ok, "")
		return nil
	case -1:
		finishSpan(span, session.ErrRotationConflict)
		return session.ErrRotationConflict
	default:
		finishSpan(span, session.ErrNotFound)
		return session.ErrNotFound
	}
}

func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, span := s.startSpan(ctx, "DeleteExpired")
	defer span.End()

	var (
		n      int64
		cursor uint64
	)
	now := time.Now()
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":session:*", 100).Result()
		if err != nil {
			return n, s.finish(span, err)
		}
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return n, s.finish(span, err)
			}
			var rec record
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				continue
			}
			// Active and inactive records alike are swept once past
			// expiry; the record TTL only covers the grace window.
			expiresAt, err := time.Parse(time.RFC3339Nano, rec.ExpiresAt)
			if err != nil || expiresAt.After(now) {
				continue
			}
			_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key,
					s.accessKey(rec.AccessToken),
					s.refreshKey(rec.RefreshToken))
				pipe.SRem(ctx, s.userKey(rec.UserID), rec.ID)
				return nil
			})
			if err != nil {
				return n, s.finish(span, err)
			}
			n++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	span.SetAttributes(attribute.Int64("sessions.removed", n))
	return n, nil
}

func (s *Store) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", op),
	)
	return s.tracer.Start(ctx, "redisstore."+op, trace.WithAttributes(attrs...))
}

func (s *Store) finish(span trace.Span, err error) error {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	finishSpan(span, err)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrRotationConflict) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return luerr.Wrap(err, luerr.CodeTimeoutStore, "redisstore: operation timed out")
	}
	return err
}

func finishSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
