package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsEverything(t *testing.T) {
	p := NewPool(context.Background(), 4, 8, nil, nil)

	var n atomic.Int32
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { n.Add(1) }))
	}
	p.Close()
	assert.Equal(t, int32(100), n.Load())
}

func TestPool_RecoversPanics(t *testing.T) {
	var mu sync.Mutex
	var got []any
	p := NewPool(context.Background(), 1, 0, func(r any, stack []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
		assert.NotEmpty(t, stack)
	}, nil)

	var after atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { after.Store(true) }))
	p.Close()

	assert.Equal(t, []any{"boom"}, got)
	assert.True(t, after.Load(), "worker survives a panic")
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(context.Background(), 1, 0, nil, nil)
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) {}), ErrClosed)
}

func TestPool_SubmitHonoursContext(t *testing.T) {
	p := NewPool(context.Background(), 1, 0, nil, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(ctx context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Close()
}
