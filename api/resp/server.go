package resp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServerOptions tune per-connection behaviour.
type ServerOptions struct {
	// CommandsPerSecond throttles each connection; 0 means unlimited.
	CommandsPerSecond float64
	Burst             int
	// IdleTimeout closes connections that send nothing for this long; 0 disables it.
	IdleTimeout time.Duration
}

// Server accepts RESP connections and runs each on its own goroutine.
type Server struct {
	handler *Handler
	opts    ServerOptions
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	wg       sync.WaitGroup
	closed   bool
}

func NewServer(handler *Handler, opts ServerOptions, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Server{
		handler: handler,
		opts:    opts,
		logger:  logger.Named("resp"),
		conns:   make(map[string]net.Conn),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Close is called.
// It returns nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("RESP server listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("Accept failed", zap.Error(err))
			continue
		}
		id := uuid.NewString()
		if !s.track(id, conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(ctx, id, conn)
	}
}

// Addr returns the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, c := range s.conns {
		_ = c.Close()
	}
	return err
}

func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) handleConnection(ctx context.Context, id string, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(id)
	defer conn.Close()

	log := s.logger.With(zap.String("conn_id", id), zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("Client connected")

	var limiter *rate.Limiter
	if s.opts.CommandsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.CommandsPerSecond), s.opts.Burst)
	}

	reader := NewReader(conn)
	writer := NewWriter(conn)
	for {
		if s.opts.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		v, err := reader.ReadValue()
		if err != nil {
			if errors.Is(err, ErrProtocol) {
				_ = writer.WriteValue(ErrorString(err.Error()))
				_ = writer.Flush()
				log.Warn("Protocol error, closing connection", zap.Error(err))
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("Read failed", zap.Error(err))
			}
			break
		}

		var (
			reply Value
			quit  bool
		)
		args, err := v.Command()
		if err != nil {
			reply = ErrorString("invalid command format")
		} else {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					break
				}
			}
			reply, quit = s.handler.Execute(ctx, args)
		}

		if err := writer.WriteValue(reply); err != nil {
			log.Debug("Write failed", zap.Error(err))
			break
		}
		// Pipelined requests already buffered are answered before one flush.
		if reader.br.Buffered() == 0 || quit {
			if err := writer.Flush(); err != nil {
				log.Debug("Flush failed", zap.Error(err))
				break
			}
		}
		if quit {
			break
		}
	}
	log.Debug("Client disconnected")
}
