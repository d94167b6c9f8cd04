// Package server owns the TCP accept loop and OS signal handling. Serve
// starts listening and blocks until SIGINT/SIGTERM or Stop is called; every
// accepted connection runs its own pooled goroutine against a shared
// context that Stop or a caught signal cancels.
package server

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tinyredis/tinyredis/handler"
	"github.com/tinyredis/tinyredis/keyspace"
	"github.com/tinyredis/tinyredis/lib/pool"
	"github.com/tinyredis/tinyredis/log"
)

// expireScanInterval and expireScanSteps drive the active expiration
// sweep: every tick, check up to expireScanSteps keys from the TTL index.
const (
	expireScanInterval = 100 * time.Millisecond
	expireScanSteps    = 20
)

// Server accepts TCP connections and hands each to a handler.Handler.
type Server struct {
	runOnce  sync.Once
	stopOnce sync.Once

	handler *handler.Handler
	eng     *keyspace.Engine
	logger  log.Logger
	stopc   chan struct{}
}

// New builds a Server.
func New(h *handler.Handler, eng *keyspace.Engine, logger log.Logger) *Server {
	return &Server{
		handler: h,
		eng:     eng,
		logger:  logger,
		stopc:   make(chan struct{}),
	}
}

// Serve runs the handler's load-on-start sequence, then accepts
// connections on address until a SIGINT/SIGTERM arrives or Stop is
// called. It returns once the listener and every connection goroutine
// have finished.
func (s *Server) Serve(address string) error {
	if err := s.handler.Start(); err != nil {
		return err
	}

	var serveErr error
	s.runOnce.Do(func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		closec := make(chan struct{}, 2)
		pool.Submit(func() {
			select {
			case sig := <-sigc:
				s.logger.Warnf("server: received signal %s, shutting down", sig)
				closec <- struct{}{}
			case <-s.stopc:
				closec <- struct{}{}
			}
		})

		listener, err := net.Listen("tcp", address)
		if err != nil {
			serveErr = err
			return
		}

		s.listenAndServe(listener, closec)
	})

	return serveErr
}

// Stop requests a graceful shutdown; Serve returns once it completes.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopc) })
}

func (s *Server) listenAndServe(listener net.Listener, closec chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)

	pool.Submit(func() {
		select {
		case <-closec:
			s.logger.Warnf("server: closing")
		case err := <-errc:
			s.logger.Errorf("server: accept error: %s", err.Error())
		}
		cancel()
		s.handler.Close()
		if err := listener.Close(); err != nil {
			s.logger.Errorf("server: close listener failed: %s", err.Error())
		}
	})

	pool.Submit(func() { s.runExpireSweep(ctx) })

	s.logger.Warnf("server: listening on %s", listener.Addr())
	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			errc <- err
			break
		}

		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			s.handler.Handle(ctx, conn)
		})
	}
	wg.Wait()
}

// runExpireSweep drives the engine's active expiration sweep until ctx is
// cancelled, matching the original's probabilistic-eviction background
// thread.
func (s *Server) runExpireSweep(ctx context.Context) {
	ticker := time.NewTicker(expireScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.eng.ExpireScanStep(expireScanSteps)
		}
	}
}
