package broker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamq/internal/config"
	"streamq/internal/infrastructure/database"
	"streamq/internal/infrastructure/streams"
)

func newTestBroker(t *testing.T, mutate func(*config.QueueConfig, *config.SecurityConfig)) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.NewRedisDB(config.RedisConfig{Host: mr.Host(), Port: port}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sub := streams.New(db, logger)
	t.Cleanup(func() { _ = sub.Close() })

	qc := config.QueueConfig{
		QueueName:              "jobs",
		MaxPriorityLevels:      10,
		AckTimeoutSeconds:      1,
		MaxAttempts:            2,
		BatchSize:              50,
		MaxAcknowledgedHistory: 1000,
		EventsChannel:          "jobs:events",
		ConsumerGroupName:      "jobs-workers",
		ConsumerName:           "test-consumer",
	}
	sc := config.SecurityConfig{}
	if mutate != nil {
		mutate(&qc, &sc)
	}

	return New(sub, qc, sc, logger), mr
}

func mustPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestBasicRoundTrip(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	msg := Message{ID: "a", Type: "email", Payload: mustPayload(t, map[string]string{"to": "x"}), Priority: 0}
	_, err := b.Enqueue(ctx, msg)
	require.NoError(t, err)

	got, ok, err := b.Dequeue(ctx, 100*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, "email", got.Type)
	require.True(t, got.HasLock())

	meta, err := b.loadMetadata(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 1, meta.AttemptCount)

	require.NoError(t, b.Ack(ctx, got))

	snap, err := b.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalAck)
	assert.Equal(t, int64(1), snap.AckHistoryLen)

	meta, err = b.loadMetadata(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestAckIdempotent(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, Message{ID: "a", Type: "t", Payload: mustPayload(t, 1), Priority: 0})
	require.NoError(t, err)
	got, ok, err := b.Dequeue(ctx, 100*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Ack(ctx, got))
	require.NoError(t, b.Ack(ctx, got))

	snap, err := b.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalAck)
	assert.Equal(t, int64(1), snap.AckHistoryLen)
}

func TestPriorityInversion(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, Message{ID: "low", Type: "t", Payload: mustPayload(t, 1), Priority: 0})
	require.NoError(t, err)
	_, err = b.Enqueue(ctx, Message{ID: "high", Type: "t", Payload: mustPayload(t, 1), Priority: 5})
	require.NoError(t, err)

	got, ok, err := b.Dequeue(ctx, 100*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high", got.ID)
}

func TestRetryThenDeadLetter(t *testing.T) {
	b, _ := newTestBroker(t, func(qc *config.QueueConfig, sc *config.SecurityConfig) {
		qc.AckTimeoutSeconds = 1
		qc.MaxAttempts = 2
	})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, Message{ID: "x", Type: "t", Payload: mustPayload(t, 1), Priority: 0})
	require.NoError(t, err)

	_, ok, err := b.Dequeue(ctx, 100*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(1100 * time.Millisecond)
	result, err := b.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Requeued)

	meta, err := b.loadMetadata(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta.AttemptCount)

	got, ok, err := b.Dequeue(ctx, 100*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", got.ID)

	meta, err = b.loadMetadata(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta.AttemptCount)

	time.Sleep(1100 * time.Millisecond)
	result, err = b.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeadLettered)

	dead, err := b.Query(ctx, QueueDead, QueryParams{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, dead.Messages, 1)
	assert.Equal(t, "x", dead.Messages[0].ID)
	assert.Equal(t, "Max attempts exceeded", dead.Messages[0].LastError)

	meta, err = b.loadMetadata(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestMoveToProcessing(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := b.Enqueue(ctx, Message{ID: id, Type: "t", Payload: mustPayload(t, 1), Priority: 0})
		require.NoError(t, err)
	}

	moved, err := b.Move(ctx, []string{"a"}, QueueMain, QueueProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	main, err := b.Query(ctx, QueueMain, QueryParams{Page: 1, Limit: 10})
	require.NoError(t, err)
	ids := make([]string, 0)
	for _, m := range main.Messages {
		ids = append(ids, m.ID)
	}
	assert.NotContains(t, ids, "a")

	got, ok, err := b.Dequeue(ctx, 100*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	got2, ok, err := b.Dequeue(ctx, 100*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", got2.ID)
}

func TestEncryptionTampering(t *testing.T) {
	b, mr := newTestBroker(t, func(qc *config.QueueConfig, sc *config.SecurityConfig) {
		sc.EnableMessageEncryption = true
		sc.SecretKey = "test-secret"
	})
	ctx := context.Background()

	_, err := b.Enqueue(ctx, Message{ID: "a", Type: "t", Payload: mustPayload(t, 1), Priority: 0})
	require.NoError(t, err)
	_, err = b.Enqueue(ctx, Message{ID: "b", Type: "t", Payload: mustPayload(t, 1), Priority: 0})
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	entries, err := rdb.XRange(ctx, "jobs", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Streams are append-only: simulate a bit-flipped entry by deleting
	// the original and appending a fresh entry carrying tampered data,
	// rather than rewriting the immutable original in place.
	tampered := entries[0].Values["data"].(string) + "x"
	require.NoError(t, rdb.XDel(ctx, "jobs", entries[0].ID).Err())
	_, err = rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "jobs",
		Values: map[string]interface{}{"data": tampered},
	}).Result()
	require.NoError(t, err)

	got, ok, err := b.Dequeue(ctx, 200*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)
}

func TestEnqueueBatchCountsAllSuccesses(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	msgs := make([]Message, 60)
	for i := range msgs {
		msgs[i] = Message{Type: "t", Payload: mustPayload(t, i), Priority: 0}
	}

	n, err := b.EnqueueBatch(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, 60, n)
}

func TestEditOmittedPriorityIsPreserved(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, Message{ID: "a", Type: "t", Payload: mustPayload(t, 1), Priority: 5})
	require.NoError(t, err)

	require.NoError(t, b.Edit(ctx, QueueMain, "a", Message{Payload: mustPayload(t, 2)}, nil, nil))

	found, err := b.locateByType(ctx, QueueMain, map[string]bool{"a": true})
	require.NoError(t, err)
	loc, ok := found["a"]
	require.True(t, ok)
	assert.Equal(t, 5, loc.msg.Priority)
	assert.Equal(t, mustPayload(t, 2), loc.msg.Payload)
}

func TestEditExplicitPriorityMovesBand(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, Message{ID: "a", Type: "t", Payload: mustPayload(t, 1), Priority: 0})
	require.NoError(t, err)

	newPriority := 7
	require.NoError(t, b.Edit(ctx, QueueMain, "a", Message{}, &newPriority, nil))

	found, err := b.locateByType(ctx, QueueMain, map[string]bool{"a": true})
	require.NoError(t, err)
	loc, ok := found["a"]
	require.True(t, ok)
	assert.Equal(t, 7, loc.msg.Priority)
}

func TestEditProcessingCustomAckTimeout(t *testing.T) {
	b, _ := newTestBroker(t, nil)
	ctx := context.Background()

	_, err := b.Enqueue(ctx, Message{ID: "a", Type: "t", Payload: mustPayload(t, 1), Priority: 0})
	require.NoError(t, err)
	_, ok, err := b.Dequeue(ctx, 100*time.Millisecond, nil)
	require.NoError(t, err)
	require.True(t, ok)

	timeout := 42
	require.NoError(t, b.Edit(ctx, QueueProcessing, "a", Message{}, nil, &timeout))

	meta, err := b.loadMetadata(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.NotNil(t, meta.CustomAckTimeout)
	assert.Equal(t, 42, *meta.CustomAckTimeout)
}
