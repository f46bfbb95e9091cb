package streams

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamq/internal/config"
	"streamq/internal/infrastructure/database"
)

func newTestSubstrate(t *testing.T) (*Substrate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.NewRedisDB(config.RedisConfig{
		Host: mr.Host(),
		Port: port,
	}, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return New(db, logger), mr
}

func TestSubstrate_AppendAndRange(t *testing.T) {
	s, _ := newTestSubstrate(t)
	ctx := context.Background()

	id, err := s.Append(ctx, "orders", map[string]interface{}{"data": "payload-a"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := s.RangeForward(ctx, "orders", "-", "+", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "payload-a", msgs[0].Values["data"])
}

func TestSubstrate_EnsureGroup_Idempotent(t *testing.T) {
	s, _ := newTestSubstrate(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureGroup(ctx, "orders", "workers", "0"))
	require.NoError(t, s.EnsureGroup(ctx, "orders", "workers", "0"))
}

func TestSubstrate_GroupRead_NoGroup(t *testing.T) {
	s, _ := newTestSubstrate(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "orders", map[string]interface{}{"data": "x"})
	require.NoError(t, err)

	_, err = s.GroupRead(ctx, "workers", "consumer-1", "orders", ">", 1, 0)
	assert.True(t, IsNoGroup(err))
}

func TestSubstrate_GroupRead_ReadAndAck(t *testing.T) {
	s, _ := newTestSubstrate(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureGroup(ctx, "orders", "workers", "0"))
	id, err := s.Append(ctx, "orders", map[string]interface{}{"data": "x"})
	require.NoError(t, err)

	msgs, err := s.GroupRead(ctx, "workers", "consumer-1", "orders", ">", 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	n, err := s.Ack(ctx, "orders", "workers", id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := s.Pending(ctx, "orders", "workers", 0, "-", "+", 10, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubstrate_ReadSelfHealsOnNoGroup(t *testing.T) {
	s, mr := newTestSubstrate(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureGroup(ctx, "orders", "workers", "0"))
	_, err := s.Append(ctx, "orders", map[string]interface{}{"data": "x"})
	require.NoError(t, err)

	mr.Del("orders")

	_, err = s.GroupRead(ctx, "workers", "consumer-1", "orders", ">", 1, 0)
	require.True(t, IsNoGroup(err))

	require.NoError(t, s.EnsureGroup(ctx, "orders", "workers", "0"))
	_, err = s.Append(ctx, "orders", map[string]interface{}{"data": "y"})
	require.NoError(t, err)

	msgs, err := s.GroupRead(ctx, "workers", "consumer-1", "orders", ">", 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestSubstrate_Lease_AcquireRelease(t *testing.T) {
	s, _ := newTestSubstrate(t)
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "reclaim:lock", "token-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(ctx, "reclaim:lock", "token-2", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lease held by another token must not be stolen")

	require.NoError(t, s.ReleaseLease(ctx, "reclaim:lock", "token-2"))

	ok, err = s.AcquireLease(ctx, "reclaim:lock", "token-2", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "release with the wrong token must be a no-op")

	require.NoError(t, s.ReleaseLease(ctx, "reclaim:lock", "token-1"))

	ok, err = s.AcquireLease(ctx, "reclaim:lock", "token-2", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubstrate_AppendTrimmed(t *testing.T) {
	s, _ := newTestSubstrate(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := s.AppendTrimmed(ctx, "acked", map[string]interface{}{"data": "x"}, 3)
		require.NoError(t, err)
	}

	n, err := s.Length(ctx, "acked")
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(10))
}

func TestSubstrate_AppendBatch(t *testing.T) {
	s, _ := newTestSubstrate(t)
	ctx := context.Background()

	ids, err := s.AppendBatch(ctx, "orders", []map[string]interface{}{
		{"data": "a"},
		{"data": "b"},
		{"data": "c"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.NotEmpty(t, id)
	}

	n, err := s.Length(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSubstrate_HashRoundTrip(t *testing.T) {
	s, _ := newTestSubstrate(t)
	ctx := context.Background()

	require.NoError(t, s.HashSet(ctx, "meta:1", map[string]interface{}{"attempt_count": 1}))
	m, err := s.HashGetAll(ctx, "meta:1")
	require.NoError(t, err)
	assert.Equal(t, "1", m["attempt_count"])

	require.NoError(t, s.HashDelete(ctx, "meta:1"))
	m, err = s.HashGetAll(ctx, "meta:1")
	require.NoError(t, err)
	assert.Empty(t, m)
}
