package gatt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattsrv/internal/groutine"
	"github.com/srg/gattsrv/pkg/transport"
)

// Handler runs alongside one connection. It typically ranges over c.Events() and pushes
// updates through c.Outgoing(); events it leaves unread once it returns are discarded.
type Handler[T comparable] func(ctx context.Context, c *Connection[T])

// Server binds a finished registration to a listener. Every accepted peer gets its own
// Connection over a private copy of the database, so values written by one peer are not
// seen by another.
type Server[T comparable] struct {
	listener transport.Listener
	db       *Database
	tokens   *Tokens[T]
	opts     Options
	logger   *logrus.Logger
}

// NewServer builds reg, if not built yet, and serves it on l.
func NewServer[T comparable](l transport.Listener, reg *Registration[T], opts Options, logger *logrus.Logger) *Server[T] {
	if logger == nil {
		logger = logrus.New()
	}
	db, tokens := reg.Build()
	return &Server[T]{
		listener: l,
		db:       db,
		tokens:   tokens,
		opts:     opts,
		logger:   logger,
	}
}

// Database returns the template database connections are cloned from.
func (s *Server[T]) Database() *Database {
	return s.db
}

// Tokens returns the token map shared by all connections.
func (s *Server[T]) Tokens() *Tokens[T] {
	return s.tokens
}

// Accept waits for the next peer. The returned connection is not running yet.
func (s *Server[T]) Accept(ctx context.Context) (*Connection[T], error) {
	conn, err := s.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("remote", conn.RemoteAddr().String()).Info("Peer connected")
	return NewConnection(conn, s.db.Clone(), s.tokens, s.opts, s.logger), nil
}

// Serve accepts peers until ctx is done or the listener is closed, running every
// connection and its handler in named goroutines. It returns after all of them finished:
// nil when the listener was closed, ctx.Err() on cancellation.
func (s *Server[T]) Serve(ctx context.Context, handler Handler[T]) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.WithField("addr", s.listener.Addr().String()).Info("Serving GATT")
	for {
		c, err := s.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		remote := c.conn.RemoteAddr().String()
		wg.Add(2)
		groutine.Go(ctx, "att-conn:"+remote, func(ctx context.Context) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.WithError(err).Error("Connection failed")
			}
		})
		groutine.Go(ctx, "att-handler:"+remote, func(ctx context.Context) {
			defer wg.Done()
			if handler != nil {
				handler(ctx, c)
			}
			for range c.Events() {
			}
		})
	}
}

// Close stops accepting peers. Running connections are not affected.
func (s *Server[T]) Close() error {
	return s.listener.Close()
}
