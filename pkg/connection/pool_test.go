package connection

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sushant-115/pagedb/api/resp"
	"github.com/sushant-115/pagedb/core/indexmanager"
)

func startServer(t *testing.T) string {
	t.Helper()
	store, err := indexmanager.Open(indexmanager.Options{DataDir: t.TempDir()}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := resp.NewServer(resp.NewHandler(store, zaptest.NewLogger(t)), resp.ServerOptions{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = store.Close()
	})
	return ln.Addr().String()
}

func TestPoolReusesConnections(t *testing.T) {
	addr := startServer(t)
	p := NewPool(addr, 2, time.Second)
	defer p.Close()
	ctx := context.Background()

	c1, err := p.Get(ctx)
	require.NoError(t, err)
	v, err := c1.Do(ctx, "PING")
	require.NoError(t, err)
	assert.Equal(t, resp.Simple("PONG"), v)
	c1.Release()
	assert.Equal(t, 1, p.Size())

	c2, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, c1.Client, c2.Client)
	c2.Release()
	assert.Equal(t, 1, p.Size())
}

func TestPoolBlocksAtMaxSize(t *testing.T) {
	addr := startServer(t)
	p := NewPool(addr, 1, time.Second)
	defer p.Close()

	c1, err := p.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	c1.Release()
	c2, err := p.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, c2.Discard())
	assert.Equal(t, 0, p.Size())
}

func TestPoolConcurrentUse(t *testing.T) {
	addr := startServer(t)
	p := NewPool(addr, 4, time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Get(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer c.Release()
			_, err = c.Do(ctx, "PING")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, p.Size(), 4)

	p.Close()
	assert.Equal(t, 0, p.Size())
	_, err := p.Get(ctx)
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := NewPool(addr, 1, 200*time.Millisecond)
	defer p.Close()
	_, err = p.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, p.Size())
}
