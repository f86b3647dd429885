// Package broker implements the TCP server: accepting connections, framing
// the length-prefixed Kafka request/response protocol on each one, and
// dispatching decoded requests to the ApiVersions, DescribeTopicPartitions,
// and Fetch handlers.
package broker

import (
	"fmt"
	"net"
	"sync"

	"github.com/burningass23/kraft-broker/internal/klog"
	"github.com/burningass23/kraft-broker/internal/metadatalog"
	"github.com/burningass23/kraft-broker/internal/metrics"
)

// Server accepts client connections and runs one Conn per connection. Its
// accept loop and shutdown-channel discipline follow the same shape as a
// minimal net.Listener-based TCP server: register each client, serve it in
// its own goroutine, and wait for every goroutine to finish on Close.
type Server struct {
	listenAddr string
	log        klog.Logger
	metrics    *metrics.Registry
	index      *metadatalog.Index

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewServer constructs a Server. Call ListenAndServe to start accepting
// connections.
func NewServer(listenAddr string, log klog.Logger, m *metrics.Registry, idx *metadatalog.Index) *Server {
	return &Server{
		listenAddr: listenAddr,
		log:        log,
		metrics:    m,
		index:      idx,
		conns:      make(map[net.Conn]struct{}),
	}
}

// ListenAndServe binds the listen address and accepts connections until
// Close is called. It blocks until the listener stops (either from Close
// or a fatal Accept error).
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("broker: listen on %s: %w", s.listenAddr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.shutdown = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("listening", klog.String("addr", s.listenAddr))

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				return fmt.Errorf("broker: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()

	s.registerConn(nc)
	defer s.unregisterConn(nc)

	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsOpen.Inc()
		defer s.metrics.ConnectionsOpen.Dec()
	}

	log := s.log.With(klog.String("remote_addr", nc.RemoteAddr().String()))
	log.Info("connection accepted")
	defer log.Info("connection closed")

	c := newConn(nc, log, s.metrics, s.index)
	c.serve()
	nc.Close()
}

func (s *Server) registerConn(nc net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[nc] = struct{}{}
}

func (s *Server) unregisterConn(nc net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, nc)
}

// Close stops accepting new connections, closes every open connection, and
// waits for their serving goroutines to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.shutdown != nil {
		close(s.shutdown)
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for nc := range s.conns {
		nc.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
