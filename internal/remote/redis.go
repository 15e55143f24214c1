package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/floodsync/internal/ir"
)

// DefaultPrefix namespaces the collection hashes.
const DefaultPrefix = "floodsync"

// swapScript replaces the row only when it is absent or its guard field
// matches.
//
// KEYS[1] collection hash; ARGV: row id, guard field, expected, new value.
var swapScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local rec = cjson.decode(cur)
  if type(rec) ~= 'table' or tostring(rec[ARGV[2]]) ~= ARGV[3] then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[4])
return 1
`)

// incrScript adds one to an integer field, seeding absent rows. cjson
// re-encodes the whole record, so it is only used on flat records.
//
// KEYS[1] collection hash; ARGV: row id, field, seed value.
var incrScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
  cur = ARGV[3]
end
local rec = cjson.decode(cur)
rec[ARGV[2]] = (tonumber(rec[ARGV[2]]) or 0) + 1
local out = cjson.encode(rec)
redis.call('HSET', KEYS[1], ARGV[1], out)
return out
`)

// RedisMirror stores each collection as a Redis hash.
type RedisMirror struct {
	client  *redis.Client
	prefix  string
	channel string
}

// DialRedis connects using a redis:// or rediss:// URL. A non-empty key
// overrides any password in the URL.
func DialRedis(ctx context.Context, rawURL, key, channel string, timeout time.Duration) (*RedisMirror, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if key != "" {
		opts.Password = key
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, wrap("ping", "", err)
	}
	return NewRedisMirror(client, DefaultPrefix, channel), nil
}

// NewRedisMirror wraps an existing client.
func NewRedisMirror(client *redis.Client, prefix, channel string) *RedisMirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisMirror{client: client, prefix: prefix, channel: channel}
}

func (m *RedisMirror) key(coll ir.Collection) string {
	return m.prefix + ":" + string(coll)
}

func (m *RedisMirror) Fetch(ctx context.Context, coll ir.Collection) ([]json.RawMessage, error) {
	rows, err := m.client.HGetAll(ctx, m.key(coll)).Result()
	if err != nil {
		return nil, wrap("fetch", coll, err)
	}
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, json.RawMessage(rows[id]))
	}
	return out, nil
}

func (m *RedisMirror) Upsert(ctx context.Context, coll ir.Collection, id string, value json.RawMessage) error {
	err := m.client.HSet(ctx, m.key(coll), coll.RowID(id), string(value)).Err()
	return wrap("upsert", coll, err)
}

func (m *RedisMirror) Swap(ctx context.Context, coll ir.Collection, id string, guard Guard, value json.RawMessage) (bool, error) {
	n, err := swapScript.Run(ctx, m.client, []string{m.key(coll)},
		coll.RowID(id), guard.Field, guard.Equals, string(value)).Int()
	if err != nil {
		return false, wrap("swap", coll, err)
	}
	return n == 1, nil
}

func (m *RedisMirror) Increment(ctx context.Context, coll ir.Collection, id, field string, seed json.RawMessage) (json.RawMessage, error) {
	out, err := incrScript.Run(ctx, m.client, []string{m.key(coll)},
		coll.RowID(id), field, string(seed)).Text()
	if err != nil {
		return nil, wrap("increment", coll, err)
	}
	return json.RawMessage(out), nil
}

func (m *RedisMirror) Delete(ctx context.Context, coll ir.Collection, id string) error {
	err := m.client.HDel(ctx, m.key(coll), coll.RowID(id)).Err()
	return wrap("delete", coll, err)
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// Announce publishes a change notice on the broadcast channel.
func (m *RedisMirror) Announce(ctx context.Context) error {
	if m.channel == "" {
		return nil
	}
	return wrap("announce", "", m.client.Publish(ctx, m.channel, "UPDATE").Err())
}

// Listen subscribes to the broadcast channel and calls fn per message.
func (m *RedisMirror) Listen(ctx context.Context, fn func()) error {
	if m.channel == "" {
		<-ctx.Done()
		return nil
	}
	sub := m.client.Subscribe(ctx, m.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return wrap("listen", "", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			fn()
		}
	}
}

var (
	_ Mirror    = (*RedisMirror)(nil)
	_ Announcer = (*RedisMirror)(nil)
)
