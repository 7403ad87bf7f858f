package debounce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "slack-intake:debounce:"

// The due index and per-batch keys are touched by the same script, so a
// single Redis node (not cluster) is assumed.
var (
	appendScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], 'id')
local deadline
if not id then
  id = ARGV[2]
  deadline = ARGV[4]
  redis.call('HSET', KEYS[1], 'id', id, 'opened', ARGV[3], 'deadline', deadline)
  redis.call('DEL', KEYS[2])
  redis.call('ZADD', KEYS[3], deadline, ARGV[1])
else
  deadline = redis.call('HGET', KEYS[1], 'deadline')
  if tonumber(deadline) <= tonumber(ARGV[3]) then
    return {id, deadline, 'expired'}
  end
end
redis.call('RPUSH', KEYS[2], ARGV[5])
return {id, deadline}
`)

	closeScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], 'id')
if not id then return false end
if ARGV[2] ~= '' and ARGV[2] ~= id then return false end
local opened = redis.call('HGET', KEYS[1], 'opened')
local deadline = redis.call('HGET', KEYS[1], 'deadline')
local events = redis.call('LRANGE', KEYS[2], 0, -1)
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1])
return {id, opened, deadline, events}
`)

	dueScript = redis.NewScript(`
local keys = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local out = {}
for _, k in ipairs(keys) do
  local meta = redis.call('HMGET', ARGV[2] .. k, 'id', 'deadline')
  if meta[1] then
    table.insert(out, k)
    table.insert(out, meta[1])
    table.insert(out, meta[2])
  else
    redis.call('ZREM', KEYS[1], k)
  end
end
return out
`)
)

// RedisStore keeps open batches in Redis so several buffering processes can
// share conversation keys. Every transition runs as a Lua script.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis backed batch store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func metaKey(key string) string   { return redisPrefix + "batch:" + key }
func eventsKey(key string) string { return redisPrefix + "events:" + key }
func dueKey() string              { return redisPrefix + "due" }

// Append adds ev to the open batch for key
func (s *RedisStore) Append(ctx context.Context, key string, ev Event, newID int64, now time.Time, window time.Duration) (Pending, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Pending{}, fmt.Errorf("failed to encode event: %w", err)
	}

	res, err := appendScript.Run(ctx, s.client,
		[]string{metaKey(key), eventsKey(key), dueKey()},
		key,
		strconv.FormatInt(newID, 10),
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(window).UnixMilli(), 10),
		payload,
	).StringSlice()
	if err != nil {
		return Pending{}, fmt.Errorf("failed to append event: %w", err)
	}
	if len(res) != 2 && len(res) != 3 {
		return Pending{}, fmt.Errorf("unexpected append reply of length %d", len(res))
	}

	id, err := strconv.ParseInt(res[0], 10, 64)
	if err != nil {
		return Pending{}, fmt.Errorf("invalid batch id %q: %w", res[0], err)
	}
	deadline, err := parseMillis(res[1])
	if err != nil {
		return Pending{}, err
	}
	p := Pending{Key: key, BatchID: id, Deadline: deadline}
	if len(res) == 3 {
		return p, ErrBatchExpired
	}
	return p, nil
}

// Due lists open batches whose deadline has passed
func (s *RedisStore) Due(ctx context.Context, now time.Time) ([]Pending, error) {
	return s.scan(ctx, strconv.FormatInt(now.UnixMilli(), 10))
}

// Open lists every open batch
func (s *RedisStore) Open(ctx context.Context) ([]Pending, error) {
	return s.scan(ctx, "+inf")
}

func (s *RedisStore) scan(ctx context.Context, max string) ([]Pending, error) {
	res, err := dueScript.Run(ctx, s.client, []string{dueKey()}, max, redisPrefix+"batch:").StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	pending := make([]Pending, 0, len(res)/3)
	for i := 0; i+2 < len(res); i += 3 {
		id, err := strconv.ParseInt(res[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid batch id %q: %w", res[i+1], err)
		}
		deadline, err := parseMillis(res[i+2])
		if err != nil {
			return nil, err
		}
		pending = append(pending, Pending{Key: res[i], BatchID: id, Deadline: deadline})
	}
	return pending, nil
}

// Close atomically removes the batch and returns its events
func (s *RedisStore) Close(ctx context.Context, key string, batchID int64) (*Batch, error) {
	expected := ""
	if batchID != 0 {
		expected = strconv.FormatInt(batchID, 10)
	}

	res, err := closeScript.Run(ctx, s.client,
		[]string{metaKey(key), eventsKey(key), dueKey()},
		key, expected,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close batch: %w", err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("unexpected close reply of length %d", len(res))
	}

	idStr, _ := res[0].(string)
	openedStr, _ := res[1].(string)
	deadlineStr, _ := res[2].(string)
	rawEvents, _ := res[3].([]interface{})

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid batch id %q: %w", idStr, err)
	}
	opened, err := parseMillis(openedStr)
	if err != nil {
		return nil, err
	}
	deadline, err := parseMillis(deadlineStr)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(rawEvents))
	for _, raw := range rawEvents {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(str), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode buffered event: %w", err)
		}
		events = append(events, ev)
	}

	return &Batch{
		ID:              id,
		ConversationKey: key,
		Events:          events,
		OpenedAt:        opened,
		Deadline:        deadline,
	}, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
