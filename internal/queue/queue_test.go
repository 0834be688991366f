package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	ping := LocationPing{SessionID: "sess-1", Lat: 19.0434, Lng: 73.0618, AccuracyM: 9, CapturedAt: time.Now().UTC()}
	require.NoError(t, q.Publish(ctx, ping))

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-out:
		require.Equal(t, ping.SessionID, got.SessionID)
		require.Equal(t, ping.Lat, got.Lat)
	case <-time.After(time.Second):
		t.Fatal("ping never delivered")
	}
}

func TestInMemoryPublishHonorsCancellation(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, LocationPing{SessionID: "a"}))

	cancel()
	err := q.Publish(ctx, LocationPing{SessionID: "b"})
	require.ErrorIs(t, err, context.Canceled)
}
