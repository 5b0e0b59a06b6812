package convergence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/reservoirdb/convergence/pkg/buffer"
)

// EngineFactory constructs the Engine that will back a single client
// connection. It is called once per connection, after the client's startup
// message has been read (not for a connection that only sends a
// CancelRequest); most
// implementations close over a shared connection pool or in-memory store and
// return a lightweight per-connection Engine value.
type EngineFactory func(ctx context.Context) (Engine, error)

// ListenAndServe opens a new Postgres server on address using the given
// engine factory and default configuration. This is the quickest way to
// stand up a server for testing purposes or simple use cases.
func ListenAndServe(address string, factory EngineFactory) error {
	server, err := NewServer(factory)
	if err != nil {
		return err
	}

	return server.ListenAndServe(address)
}

// NewServer constructs a new Postgres server using the given engine factory
// and server options.
func NewServer(factory EngineFactory, options ...OptionFn) (*Server, error) {
	srv := &Server{
		factory:         factory,
		logger:          slog.Default(),
		closer:          make(chan struct{}),
		bufferedMsgSize: buffer.DefaultBufferSize,
	}

	for _, option := range options {
		option(srv)
	}

	return srv, nil
}

// Server listens for and serves incoming Postgres wire protocol connections.
type Server struct {
	closing         atomic.Bool
	wg              sync.WaitGroup
	logger          *slog.Logger
	factory         EngineFactory
	metrics         *Metrics
	bufferedMsgSize int
	version         string
	closer          chan struct{}
}

// ListenAndServe opens a new Postgres server on the given address and starts
// accepting and serving incoming client connections.
func (srv *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	return srv.Serve(listener)
}

// Serve accepts and serves incoming Postgres client connections using the
// preconfigured configuration. The given listener is closed once the server
// is gracefully closed.
func (srv *Server) Serve(listener net.Listener) error {
	defer srv.logger.Info("closing server")

	srv.logger.Info("serving incoming connections", slog.String("addr", listener.Addr().String()))
	srv.wg.Add(1)

	go func() {
		defer srv.wg.Done()
		<-srv.closer

		if err := listener.Close(); err != nil {
			srv.logger.Error("unexpected error while closing the listener", "err", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}

		if err != nil {
			return err
		}

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()

			if err := srv.serve(context.Background(), conn); err != nil {
				srv.logger.Error("connection terminated with an error", "err", err)
			}
		}()
	}
}

// serve drives a single client connection end to end: the startup
// handshake, then the sequential Idle-state command loop, until the client
// terminates the connection or an unrecoverable error occurs.
func (srv *Server) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	if srv.factory == nil {
		return fmt.Errorf("convergence: no engine factory configured")
	}

	id := uuid.New()
	ctx = setConnectionID(ctx, id)
	logger := srv.logger.With(slog.String("conn", id.String()))

	logger.Debug("serving a new client connection")

	srv.metrics.connectionOpened()
	defer srv.metrics.connectionClosed()

	reader := buffer.NewReader(logger, conn, srv.bufferedMsgSize)
	writer := buffer.NewWriter(logger, conn)

	session := &Session{
		logger:   logger,
		factory:  srv.factory,
		version:  srv.version,
		metrics:  srv.metrics,
		statements: make(map[string]*preparedStatement),
		portals:    make(map[string]*boundPortal),
	}

	return session.run(ctx, conn, reader, writer)
}

// Close gracefully closes the underlying Postgres server, waiting for every
// in-flight connection's goroutine to return.
func (srv *Server) Close() error {
	if srv.closing.Load() {
		return nil
	}

	srv.closing.Store(true)
	close(srv.closer)
	srv.wg.Wait()
	return nil
}
