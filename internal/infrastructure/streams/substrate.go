// Package streams adapts a Redis connection into the stream-and-hash
// substrate the broker core is built against.
package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"streamq/internal/infrastructure/database"
)

// ErrNoGroup is returned when a consumer-group read targets a stream or
// group that does not exist yet. Callers recover by creating the group
// and retrying once.
var ErrNoGroup = errors.New("substrate: no such key or consumer group")

// ErrUnavailable wraps connectivity failures (SubstrateUnavailable in the
// broker's error taxonomy).
var ErrUnavailable = errors.New("substrate: unavailable")

// Substrate is a thin adapter over Redis streams and hashes. It never
// encodes broker semantics (priority bands, locks, metadata shape) — it
// only exposes the primitive operations spec.md §4.2 requires.
type Substrate struct {
	db     *database.RedisDB
	sub    *redis.Client
	logger *slog.Logger
}

// New builds a Substrate over an already-connected RedisDB, opening a
// second, dedicated connection for pub/sub so that subscriber traffic
// never shares a connection with commands.
func New(db *database.RedisDB, logger *slog.Logger) *Substrate {
	opts := db.Client.Options()
	sub := redis.NewClient(opts)
	return &Substrate{db: db, sub: sub, logger: logger}
}

// Close closes the dedicated subscriber connection. The command
// connection belongs to the caller-owned RedisDB and is closed
// separately.
func (s *Substrate) Close() error {
	return s.sub.Close()
}

func wrapErr(err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	if isNoGroupErr(err) {
		return ErrNoGroup
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("substrate error: %w", err)
}

func isNoGroupErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "NOGROUP")
}

// IsNoGroup reports whether err is the benign "no such key / no such
// group" class the reclaimer and dequeue path treat as an empty result.
func IsNoGroup(err error) bool {
	return errors.Is(err, ErrNoGroup)
}

// IsBusyGroup reports whether err is the idempotent "group already
// exists" response from XGROUP CREATE.
func IsBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// Append adds one entry to stream and returns its assigned stream-id.
func (s *Substrate) Append(ctx context.Context, stream string, fields map[string]interface{}) (string, error) {
	id, err := s.db.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Result()
	return id, wrapErr(err)
}

// AppendTrimmed adds one entry to stream, approximately trimming the
// stream to at most maxLen entries in the same call (`MAXLEN ~ N`).
func (s *Substrate) AppendTrimmed(ctx context.Context, stream string, fields map[string]interface{}, maxLen int64) (string, error) {
	id, err := s.db.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: fields,
	}).Result()
	return id, wrapErr(err)
}

// AppendBatch pipelines an append per entry and returns the assigned
// ids in order. A non-empty id at a given index means that entry was
// appended; the batch continues past individual failures so callers can
// count partial successes. An error is returned only when no entry was
// appended.
func (s *Substrate) AppendBatch(ctx context.Context, stream string, entries []map[string]interface{}) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	pipe := s.db.Client.Pipeline()
	cmds := make([]*redis.StringCmd, len(entries))
	for i, fields := range entries {
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: fields})
	}
	_, execErr := pipe.Exec(ctx)
	ids := make([]string, len(cmds))
	appended := 0
	for i, cmd := range cmds {
		id, cmdErr := cmd.Result()
		if cmdErr != nil {
			continue
		}
		ids[i] = id
		appended++
	}
	if appended == 0 && execErr != nil && execErr != redis.Nil {
		return nil, wrapErr(execErr)
	}
	return ids, nil
}

// RangeForward runs XRANGE start..end, at most count entries (count <= 0
// means unbounded).
func (s *Substrate) RangeForward(ctx context.Context, stream, start, end string, count int64) ([]redis.XMessage, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.db.Client.XRangeN(ctx, stream, start, end, count).Result()
	} else {
		msgs, err = s.db.Client.XRange(ctx, stream, start, end).Result()
	}
	return msgs, wrapErr(err)
}

// RangeReverse runs XREVRANGE end..start, at most count entries.
func (s *Substrate) RangeReverse(ctx context.Context, stream, start, end string, count int64) ([]redis.XMessage, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.db.Client.XRevRangeN(ctx, stream, end, start, count).Result()
	} else {
		msgs, err = s.db.Client.XRevRange(ctx, stream, end, start).Result()
	}
	return msgs, wrapErr(err)
}

// EnsureGroup creates group on stream at the given start id (typically
// "0" or "$"), creating the stream too if absent. A BUSYGROUP response
// is treated as success.
func (s *Substrate) EnsureGroup(ctx context.Context, stream, group, start string) error {
	err := s.db.Client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if err != nil && !IsBusyGroup(err) {
		return wrapErr(err)
	}
	return nil
}

// GroupRead reads up to count entries per stream for group/consumer,
// blocking up to block (0 disables blocking; a negative block waits
// forever). On NOGROUP it returns ErrNoGroup; the caller is expected to
// EnsureGroup and retry once.
func (s *Substrate) GroupRead(ctx context.Context, group, consumer string, stream, afterID string, count int64, block time.Duration) ([]redis.XMessage, error) {
	// go-redis sends BLOCK for any Block >= 0 (BLOCK 0 waits forever) and
	// omits it for a negative Block, so translate to that convention.
	redisBlock := block
	switch {
	case block == 0:
		redisBlock = -1
	case block < 0:
		redisBlock = 0
	}
	res, err := s.db.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, afterID},
		Count:    count,
		Block:    redisBlock,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, wrapErr(err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res[0].Messages, nil
}

// Pending returns up to count PEL entries for group on stream, idle at
// least minIdle, optionally scoped to a single consumer ("" means any).
func (s *Substrate) Pending(ctx context.Context, stream, group string, minIdle time.Duration, start, end string, count int64, consumer string) ([]redis.XPendingExt, error) {
	args := &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  start,
		End:    end,
		Count:  count,
	}
	if consumer != "" {
		args.Consumer = consumer
	}
	entries, err := s.db.Client.XPendingExt(ctx, args).Result()
	if err != nil {
		if isNoGroupErr(err) {
			return nil, nil
		}
		return nil, wrapErr(err)
	}
	return entries, nil
}

// Claim reassigns the given pending ids to consumer, returning the
// claimed messages, provided they have been idle at least minIdle.
func (s *Substrate) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]redis.XMessage, error) {
	msgs, err := s.db.Client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if isNoGroupErr(err) {
			return nil, nil
		}
		return nil, wrapErr(err)
	}
	return msgs, nil
}

// Ack acknowledges ids against group on stream.
func (s *Substrate) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	n, err := s.db.Client.XAck(ctx, stream, group, ids...).Result()
	return n, wrapErr(err)
}

// Delete removes ids from stream.
func (s *Substrate) Delete(ctx context.Context, stream string, ids ...string) (int64, error) {
	n, err := s.db.Client.XDel(ctx, stream, ids...).Result()
	return n, wrapErr(err)
}

// Length returns the number of entries in stream (0 if it does not exist).
func (s *Substrate) Length(ctx context.Context, stream string) (int64, error) {
	n, err := s.db.Client.XLen(ctx, stream).Result()
	if err != nil {
		if isNoGroupErr(err) {
			return 0, nil
		}
		return 0, wrapErr(err)
	}
	return n, nil
}

// Pipeline exposes the raw pipeliner for multi-command sequences the
// broker core composes itself. The broker's Ack does not use it: it
// issues its XACK, XDEL, XADD, INCR and DEL calls one at a time.
func (s *Substrate) Pipeline() redis.Pipeliner {
	return s.db.Client.Pipeline()
}

// HashSet writes fields into the hash at key.
func (s *Substrate) HashSet(ctx context.Context, key string, fields map[string]interface{}) error {
	return wrapErr(s.db.Client.HSet(ctx, key, fields).Err())
}

// HashGetAll reads every field of the hash at key. A missing hash
// returns an empty, non-nil map.
func (s *Substrate) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.db.Client.HGetAll(ctx, key).Result()
	return m, wrapErr(err)
}

// HashDelete removes key entirely (used to purge a metadata record).
func (s *Substrate) HashDelete(ctx context.Context, key string) error {
	return wrapErr(s.db.Client.Del(ctx, key).Err())
}

// Incr increments the counter at key and returns its new value.
func (s *Substrate) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.db.Client.Incr(ctx, key).Result()
	return n, wrapErr(err)
}

// GetCounter reads the integer counter at key, returning 0 if it does
// not exist yet.
func (s *Substrate) GetCounter(ctx context.Context, key string) (int64, error) {
	n, err := s.db.Client.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, wrapErr(err)
	}
	return n, nil
}

// Publish posts payload to channel on the command connection. Callers
// treat publish failures as best-effort per spec.md §4.9.
func (s *Substrate) Publish(ctx context.Context, channel, payload string) error {
	return wrapErr(s.db.Client.Publish(ctx, channel, payload).Err())
}

// Subscribe opens a subscription to channel on the dedicated subscriber
// connection, never the command connection.
func (s *Substrate) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.sub.Subscribe(ctx, channel)
}

const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// AcquireLease attempts to take the named lease with SETNX+PX semantics,
// returning true if acquired.
func (s *Substrate) AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.db.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return ok, nil
}

// ReleaseLease releases the named lease only if it is still held by
// token, via a Lua compare-and-delete so a lease that already expired
// and was reacquired by someone else is never stolen back.
func (s *Substrate) ReleaseLease(ctx context.Context, key, token string) error {
	err := s.db.Client.Eval(ctx, leaseReleaseScript, []string{key}, token).Err()
	if err != nil && err != redis.Nil {
		return wrapErr(err)
	}
	return nil
}

// Ping measures substrate round-trip latency for health checks.
func (s *Substrate) Ping(ctx context.Context) (time.Duration, error) {
	return s.db.Ping(ctx)
}
