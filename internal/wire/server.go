package wire

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/logutil"
)

// Server accepts client connections and runs one Session per connection,
// each on its own goroutine.
type Server struct {
	eng *Engine
	log *zap.Logger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

func NewServer(eng *Engine) *Server {
	return &Server{eng: eng, log: eng.Log.With(zap.String("component", "wire"))}
}

// ListenAndServe blocks accepting connections on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return errors.New("wire: server already shut down")
	}
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("listening", logutil.Values(zap.String("addr", addr)))
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			sess := NewSession(s.eng, conn)
			if err := sess.Serve(); err != nil {
				s.log.Warn("session_ended", logutil.Values(zap.Error(err)))
			}
		}()
	}
}

// Shutdown stops accepting connections and waits for active sessions.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
}
