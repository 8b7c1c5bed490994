package token

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisIssueScript installs a new token for a pair, dropping any prior
// unconsumed token the pair key points at. Running as a single script makes
// invalidate-old plus insert-new atomic for concurrent issuers.
var redisIssueScript = redis.NewScript(`
local pair_key = KEYS[1]
local tok_key = KEYS[2]
local tok_prefix = ARGV[1]
local value = ARGV[2]
local id = ARGV[3]
local subject_id = ARGV[4]
local kind = ARGV[5]
local issued_ms = tonumber(ARGV[6])
local expires_ms = tonumber(ARGV[7])
local retain_ms = tonumber(ARGV[8])

local old = redis.call("GET", pair_key)
if old then
  local old_key = tok_prefix .. old
  if redis.call("HEXISTS", old_key, "consumed_at_ms") == 0 then
    redis.call("DEL", old_key)
  end
end

redis.call("SET", pair_key, value)
redis.call("PEXPIRE", pair_key, expires_ms - issued_ms)
redis.call("HSET", tok_key,
  "id", id,
  "subject_id", subject_id,
  "kind", kind,
  "issued_at_ms", issued_ms,
  "expires_at_ms", expires_ms)
redis.call("PEXPIRE", tok_key, (expires_ms - issued_ms) + retain_ms)
return 1
`)

// redisConsumeScript is the atomic check-then-set: the whole classification
// and the consumed_at write happen inside one script, so exactly one
// concurrent caller gets "ok".
var redisConsumeScript = redis.NewScript(`
local tok_key = KEYS[1]
local pair_prefix = ARGV[1]
local now_ms = tonumber(ARGV[2])
local value = ARGV[3]

if redis.call("EXISTS", tok_key) == 0 then
  return {"not_found"}
end
if redis.call("HEXISTS", tok_key, "consumed_at_ms") == 1 then
  return {"already_consumed"}
end
local expires_ms = tonumber(redis.call("HGET", tok_key, "expires_at_ms"))
if now_ms >= expires_ms then
  return {"expired"}
end

redis.call("HSET", tok_key, "consumed_at_ms", now_ms)

local subject_id = redis.call("HGET", tok_key, "subject_id")
local kind = redis.call("HGET", tok_key, "kind")
local pair_key = pair_prefix .. subject_id .. ":" .. kind
if redis.call("GET", pair_key) == value then
  redis.call("DEL", pair_key)
end

return {"ok",
  redis.call("HGET", tok_key, "id"),
  subject_id,
  kind,
  redis.call("HGET", tok_key, "issued_at_ms"),
  expires_ms}
`)

var redisInvalidateScript = redis.NewScript(`
local pair_key = KEYS[1]
local tok_prefix = ARGV[1]
local now_ms = ARGV[2]

local old = redis.call("GET", pair_key)
if old then
  local old_key = tok_prefix .. old
  if redis.call("HEXISTS", old_key, "consumed_at_ms") == 0 then
    redis.call("HSET", old_key, "expires_at_ms", now_ms)
  end
  redis.call("DEL", pair_key)
end
return 1
`)

// RedisStore implements Store on Redis. Dead tokens are garbage-collected
// by key TTLs rather than a sweep.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	ttls       TTLTable
	valueBytes int
	timeout    time.Duration
	retention  time.Duration

	now func() time.Time
}

// NewRedisStore creates a new RedisStore. retention controls how long
// consumed tokens stay around so replays classify as AlreadyConsumed.
func NewRedisStore(client redis.UniversalClient, prefix string, ttls TTLTable, valueBytes int, timeout, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "tokengate"
	}
	if ttls == nil {
		ttls = DefaultTTLTable()
	}
	if valueBytes <= 0 {
		valueBytes = DefaultValueBytes
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		ttls:       ttls,
		valueBytes: valueBytes,
		timeout:    timeout,
		retention:  retention,
		now:        time.Now,
	}
}

func (s *RedisStore) tokenPrefix() string {
	return fmt.Sprintf("%s:tok:", s.prefix)
}

func (s *RedisStore) pairPrefix() string {
	return fmt.Sprintf("%s:pair:", s.prefix)
}

func (s *RedisStore) tokenKey(value string) string {
	return s.tokenPrefix() + value
}

func (s *RedisStore) pairKey(subjectID int64, kind ActionKind) string {
	return fmt.Sprintf("%s%d:%s", s.pairPrefix(), subjectID, kind)
}

func (s *RedisStore) Issue(ctx context.Context, subjectID int64, kind ActionKind) (*ActionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := generateValue(s.valueBytes)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tok := &ActionToken{
		ID:        uuid.New().String(),
		Value:     value,
		SubjectID: subjectID,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttls.TTL(kind)),
	}

	err = redisIssueScript.Run(ctx, s.client,
		[]string{s.pairKey(subjectID, kind), s.tokenKey(value)},
		s.tokenPrefix(),
		value,
		tok.ID,
		strconv.FormatInt(subjectID, 10),
		string(kind),
		tok.IssuedAt.UnixMilli(),
		tok.ExpiresAt.UnixMilli(),
		s.retention.Milliseconds(),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return tok, nil
}

func (s *RedisStore) ValidateAndConsume(ctx context.Context, value string) (*ActionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()

	raw, err := redisConsumeScript.Run(ctx, s.client,
		[]string{s.tokenKey(value)},
		s.pairPrefix(),
		now.UnixMilli(),
		value,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("%w: unexpected consume result type", ErrStoreUnavailable)
	}

	switch asString(values[0]) {
	case "not_found":
		return nil, ErrNotFound
	case "expired":
		return nil, ErrExpired
	case "already_consumed":
		return nil, ErrAlreadyConsumed
	case "ok":
		if len(values) < 6 {
			return nil, fmt.Errorf("%w: short consume payload", ErrStoreUnavailable)
		}
		subjectID, err := strconv.ParseInt(asString(values[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad subject id in token record", ErrStoreUnavailable)
		}
		issuedMs, err := asInt64(values[4])
		if err != nil {
			return nil, fmt.Errorf("%w: bad issued_at in token record", ErrStoreUnavailable)
		}
		expiresMs, err := asInt64(values[5])
		if err != nil {
			return nil, fmt.Errorf("%w: bad expires_at in token record", ErrStoreUnavailable)
		}
		consumedAt := now
		return &ActionToken{
			ID:         asString(values[1]),
			Value:      value,
			SubjectID:  subjectID,
			Kind:       ActionKind(asString(values[3])),
			IssuedAt:   time.UnixMilli(issuedMs).UTC(),
			ExpiresAt:  time.UnixMilli(expiresMs).UTC(),
			ConsumedAt: &consumedAt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown consume state %q", ErrStoreUnavailable, asString(values[0]))
	}
}

func (s *RedisStore) Invalidate(ctx context.Context, subjectID int64, kind ActionKind) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := redisInvalidateScript.Run(ctx, s.client,
		[]string{s.pairKey(subjectID, kind)},
		s.tokenPrefix(),
		s.now().UTC().UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetLive(ctx context.Context, subjectID int64, kind ActionKind) (*ActionToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := s.client.Get(ctx, s.pairKey(subjectID, kind)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	fields, err := s.client.HGetAll(ctx, s.tokenKey(value)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	tok, err := tokenFromHash(value, fields)
	if err != nil {
		return nil, err
	}
	if !tok.Live(s.now().UTC()) {
		return nil, ErrNotFound
	}
	return tok, nil
}

// DeleteExpired is a no-op for Redis: key TTLs already reap dead tokens.
func (s *RedisStore) DeleteExpired(ctx context.Context, retainConsumed time.Duration) (int64, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func tokenFromHash(value string, fields map[string]string) (*ActionToken, error) {
	issuedMs, err := strconv.ParseInt(fields["issued_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad issued_at in token record", ErrStoreUnavailable)
	}
	expiresMs, err := strconv.ParseInt(fields["expires_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expires_at in token record", ErrStoreUnavailable)
	}
	subjectID, err := strconv.ParseInt(fields["subject_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject id in token record", ErrStoreUnavailable)
	}

	tok := &ActionToken{
		ID:        fields["id"],
		Value:     value,
		SubjectID: subjectID,
		Kind:      ActionKind(fields["kind"]),
		IssuedAt:  time.UnixMilli(issuedMs).UTC(),
		ExpiresAt: time.UnixMilli(expiresMs).UTC(),
	}
	if raw, ok := fields["consumed_at_ms"]; ok {
		consumedMs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad consumed_at in token record", ErrStoreUnavailable)
		}
		t := time.UnixMilli(consumedMs).UTC()
		tok.ConsumedAt = &t
	}
	return tok, nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
