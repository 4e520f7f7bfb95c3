package digest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	stamerrors "github.com/xiaonanln/stam/util/errors"
	"github.com/xiaonanln/stam/util/logger"
	"github.com/xiaonanln/stam/util/metrics"
)

// MaxLineSize bounds one newline-delimited digest message.
const MaxLineSize = 64 * 1024

const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// Stats is a point-in-time view of the service counters.
type Stats struct {
	Accepted    int64
	Malformed   int64
	Connections int64
}

// Service accepts TCP connections carrying newline-delimited JSON digests and
// records each one in a FlowCache. Each connection is served by its own goroutine.
type Service struct {
	addr   string
	cache  *FlowCache
	logger *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
	done     chan struct{}
	wg       sync.WaitGroup

	accepted    atomic.Int64
	malformed   atomic.Int64
	connections atomic.Int64
}

// NewService creates a service that will listen on addr and write into cache.
func NewService(addr string, cache *FlowCache) *Service {
	return &Service{
		addr:   addr,
		cache:  cache,
		logger: logger.NewLogger(fmt.Sprintf("Digest(%s)", addr)),
		conns:  make(map[net.Conn]struct{}),
		done:   make(chan struct{}),
	}
}

// Cache returns the cache the service writes into.
func (s *Service) Cache() *FlowCache {
	return s.cache
}

// Start binds the listener and starts accepting. It returns once the listener is up.
// The service runs until Stop is called or ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("digest service on %s already stopped", s.addr)
	}
	if s.listener != nil {
		return fmt.Errorf("digest service on %s already started", s.addr)
	}

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = lis
	s.logger.Infof("Digest listener active on %s", lis.Addr())

	s.wg.Add(1)
	go s.acceptLoop(lis)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()
	return nil
}

// Addr returns the bound listener address, or the configured one before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	return Stats{
		Accepted:    s.accepted.Load(),
		Malformed:   s.malformed.Load(),
		Connections: s.connections.Load(),
	}
}

// Stop closes the listener and every open connection, then waits for all handlers.
// It is safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true
	close(s.done)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Infof("Digest listener stopped: %d accepted, %d malformed", s.accepted.Load(), s.malformed.Load())
}

func (s *Service) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Service) acceptLoop(lis net.Listener) {
	defer s.wg.Done()

	delay := acceptBackoffMin
	for {
		conn, err := lis.Accept()
		if err != nil {
			if s.isStopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnf("Accept failed, retrying in %v: %v", delay, err)
			time.Sleep(delay)
			delay = min(delay*2, acceptBackoffMax)
			continue
		}
		delay = acceptBackoffMin

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		go s.handle(conn)
	}
}

// track registers conn unless the service is stopping.
func (s *Service) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	metrics.SetDigestConnections(s.addr, s.connections.Inc())
	return true
}

func (s *Service) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	metrics.SetDigestConnections(s.addr, s.connections.Dec())
}

func (s *Service) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.logger.Debugf("Connected by %s", remote)

	r := bufio.NewReaderSize(conn, MaxLineSize)
	for {
		line, tooLong, err := readLine(r)
		switch {
		case tooLong:
			s.reject(remote, stamerrors.New(stamerrors.MalformedDigest, "decode", remote,
				fmt.Errorf("line exceeds %d bytes", MaxLineSize)))
		case len(line) > 0:
			s.process(remote, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isStopped() {
				s.logger.Warnf("Closing digest connection from %s: %v", remote, err)
			}
			break
		}
	}
	s.logger.Debugf("Disconnected %s", remote)
}

func (s *Service) process(remote string, line []byte) {
	d, err := Decode(line)
	if err != nil {
		s.reject(remote, err)
		return
	}
	if evicted, ok := s.cache.Upsert(d.FlowHash, d.Timestamp); ok {
		s.logger.Debugf("Evicted flow %s", evicted)
	}
	s.accepted.Inc()
	metrics.RecordDigest(s.addr, true)
	metrics.SetFlowCacheEntries(s.addr, s.cache.Len())
	s.logger.Debugf("Received digest for flow %s at %v", d.FlowHash, d.Timestamp)
}

func (s *Service) reject(remote string, err error) {
	s.malformed.Inc()
	metrics.RecordDigest(s.addr, false)
	s.logger.Warnf("Failed to process digest from %s: %v", remote, err)
}

// readLine returns the next line without its terminator. A line longer than the
// reader's buffer is consumed up to its newline and reported as tooLong. The slice is
// only valid until the next read.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			tooLong = true
			continue
		}
		if tooLong {
			return nil, true, err
		}
		return bytes.TrimRight(chunk, "\r\n"), false, err
	}
}
