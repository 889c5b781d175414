// Package connection provides a thread-safe pool of RESP client connections
// to a single pagedb server, used by load drivers that keep many requests in
// flight.
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sushant-115/pagedb/api/resp"
)

var ErrPoolClosed = errors.New("connection pool is closed")

// PooledClient wraps a resp.Client and remembers the pool it came from.
type PooledClient struct {
	*resp.Client
	pool *Pool
}

// Release returns the client to the pool. It does not close the connection.
func (c *PooledClient) Release() {
	if c.pool == nil {
		return
	}
	c.pool.put(c.Client)
	c.pool = nil
}

// Discard closes the connection and frees its slot, for clients that saw an
// I/O error.
func (c *PooledClient) Discard() error {
	if c.pool != nil {
		c.pool.release()
		c.pool = nil
	}
	return c.Client.Close()
}

// Pool manages up to maxSize connections to one address.
type Pool struct {
	mu       sync.Mutex
	conns    chan *resp.Client
	factory  func(ctx context.Context) (*resp.Client, error)
	maxSize  int
	numConns int
	closed   bool
}

// NewPool creates a pool for address. timeout bounds each dial.
func NewPool(address string, maxSize int, timeout time.Duration) *Pool {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Pool{
		conns:   make(chan *resp.Client, maxSize),
		maxSize: maxSize,
		factory: func(ctx context.Context) (*resp.Client, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return resp.Dial(ctx, address)
		},
	}
}

// Get returns an idle client, dials a new one while under maxSize, or waits
// for one to be released.
func (p *Pool) Get(ctx context.Context) (*PooledClient, error) {
	select {
	case c, ok := <-p.conns:
		if !ok {
			return nil, ErrPoolClosed
		}
		return &PooledClient{Client: c, pool: p}, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.numConns < p.maxSize {
		p.numConns++
		p.mu.Unlock()
		c, err := p.factory(ctx)
		if err != nil {
			p.release()
			return nil, err
		}
		return &PooledClient{Client: c, pool: p}, nil
	}
	p.mu.Unlock()

	select {
	case c, ok := <-p.conns:
		if !ok {
			return nil, ErrPoolClosed
		}
		return &PooledClient{Client: c, pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size is the number of connections currently open.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numConns
}

func (p *Pool) put(c *resp.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = c.Close()
		p.numConns--
		return
	}
	select {
	case p.conns <- c:
	default:
		_ = c.Close()
		p.numConns--
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numConns--
}

// Close closes idle connections. Clients still checked out are closed when
// released.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.conns)
	for c := range p.conns {
		_ = c.Close()
		p.numConns--
	}
}
