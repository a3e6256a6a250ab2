package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := Open(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

// TestOpenRejectsBadURL verifies URL parsing errors are reported.
func TestOpenRejectsBadURL(t *testing.T) {
	_, err := Open(Config{URL: "not a url"})
	assert.Error(t, err)
}

// TestPushCappedKeepsNewestFirst pushes past the cap and checks only the
// newest entries survive, head first.
func TestPushCappedKeepsNewestFirst(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, r.PushCapped(ctx, "chat:test", []byte(fmt.Sprint(i)), 10))
	}

	vals, err := r.Range(ctx, "chat:test", 0, -1)
	require.NoError(t, err)
	require.Len(t, vals, 10)
	assert.Equal(t, "11", vals[0])
	assert.Equal(t, "2", vals[9])

	list, err := mr.List("chat:test")
	require.NoError(t, err)
	assert.Len(t, list, 10)
}

// TestPushCappedConcurrent verifies the cap holds under concurrent writers.
func TestPushCappedConcurrent(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, r.PushCapped(ctx, "chat:busy", []byte(fmt.Sprintf("%d-%d", w, i)), 25))
			}
		}(w)
	}
	wg.Wait()

	vals, err := r.Range(ctx, "chat:busy", 0, -1)
	require.NoError(t, err)
	assert.Len(t, vals, 25)
}

// TestPushCappedRejectsNonPositiveKeep guards against trimming a list away.
func TestPushCappedRejectsNonPositiveKeep(t *testing.T) {
	r, _ := newTestRedis(t)
	assert.Error(t, r.PushCapped(context.Background(), "chat:x", []byte("v"), 0))
}

// TestRangeMissingKey verifies an unknown list reads as empty.
func TestRangeMissingKey(t *testing.T) {
	r, _ := newTestRedis(t)

	vals, err := r.Range(context.Background(), "chat:none", 0, 9)
	require.NoError(t, err)
	assert.Empty(t, vals)
}

// TestStoreErrorsWhenServerDown verifies failures surface as errors.
func TestStoreErrorsWhenServerDown(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()
	ctx := context.Background()

	assert.Error(t, r.Ping(ctx))
	assert.Error(t, r.PushCapped(ctx, "chat:x", []byte("v"), 10))
	_, err := r.Range(ctx, "chat:x", 0, 1)
	assert.Error(t, err)
	assert.Error(t, r.Publish(ctx, "chat:live:x", []byte("v")))
}

// TestHashOperations covers the registry primitives.
func TestHashOperations(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := r.HGet(ctx, "channels", "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.HSet(ctx, "channels", "a", []byte("one")))
	written, err := r.HSetNX(ctx, "channels", "a", []byte("other"))
	require.NoError(t, err)
	assert.False(t, written)
	written, err = r.HSetNX(ctx, "channels", "b", []byte("two"))
	require.NoError(t, err)
	assert.True(t, written)

	v, err := r.HGet(ctx, "channels", "a")
	require.NoError(t, err)
	assert.Equal(t, "one", v)

	ok, err := r.HExists(ctx, "channels", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.HExists(ctx, "channels", "c")
	require.NoError(t, err)
	assert.False(t, ok)

	vals, err := r.HValues(ctx, "channels")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, vals)
}

// TestSubscribeReceivesPublished verifies pattern subscriptions deliver
// published payloads with their topic.
func TestSubscribeReceivesPublished(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	got := make(chan Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.Subscribe(ctx, "chat:live:*", ready, func(m Message) { got <- m })
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not confirmed")
	}

	require.NoError(t, r.Publish(ctx, "chat:live:general", []byte("payload")))

	select {
	case m := <-got:
		assert.Equal(t, "chat:live:general", m.Topic)
		assert.Equal(t, "payload", m.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}
