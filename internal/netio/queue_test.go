package netio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendQueuePushPop(t *testing.T) {
	q := newSendQueue(4)
	ctx := context.Background()

	require.NoError(t, q.push(ctx, []byte("frame-1")))
	require.NoError(t, q.push(ctx, []byte("frame-2")))

	got, err := q.pop(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("frame-1"), got)

	got, err = q.pop(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("frame-2"), got)
}

func TestSendQueueBlocksWhenFull(t *testing.T) {
	q := newSendQueue(1)
	ctx := context.Background()
	require.NoError(t, q.push(ctx, []byte("a")))

	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.push(ctx2, []byte("b"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendQueueDrain(t *testing.T) {
	q := newSendQueue(4)
	ctx := context.Background()
	require.NoError(t, q.push(ctx, []byte("a")))

	done := make(chan struct{})
	go func() {
		_, _ = q.pop(ctx)
		close(done)
	}()
	<-done

	require.NoError(t, q.drain(ctx, time.Second))
}
