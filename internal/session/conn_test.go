package session

import (
	"errors"
	"sync"
	"time"

	"production-test/internal/transport"
)

// step produces the result of one Receive call.
type step func() (string, error)

func reply(msg string) step { return func() (string, error) { return msg, nil } }

// scriptConn replays scripted receives, then idles with timeouts.
type scriptConn struct {
	mu     sync.Mutex
	steps  []step
	sent   []string
	tick   time.Duration
	closed bool
	ep     transport.Endpoint
}

func newScriptConn(steps ...step) *scriptConn {
	return &scriptConn{steps: steps, tick: 5 * time.Millisecond}
}

func (s *scriptConn) dialer() Dialer {
	return func(ep transport.Endpoint) (transport.Conn, error) {
		s.mu.Lock()
		s.ep = ep
		s.mu.Unlock()
		return s, nil
	}
}

func (s *scriptConn) Send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("send on closed conn")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *scriptConn) Receive() (string, error) {
	s.mu.Lock()
	if len(s.steps) > 0 {
		next := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		return next()
	}
	s.mu.Unlock()
	time.Sleep(s.tick)
	return "", transport.ErrTimeout
}

func (s *scriptConn) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *scriptConn) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *scriptConn) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
