// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server serves the broker control channel.
//
// Every connection is a session: it gets its own caller address space,
// requests on it are handled one at a time, and whatever it left mapped is
// released when it goes away.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/u-root/iobroker/pkg/dispatch"
	"github.com/u-root/iobroker/pkg/logger"
	"github.com/u-root/iobroker/pkg/session"
	"github.com/u-root/iobroker/pkg/wire"
	"github.com/u-root/iobroker/pkg/zone"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	ErrServerClosed = errors.New("server closed")
)

// SpaceFunc creates the caller address space of a new session.
type SpaceFunc func(name string) zone.Space

type Server struct {
	d          *dispatch.Dispatcher
	hooks      *session.Hooks
	maxPayload uint32
	allowed    map[uint32]bool
	newSpace   SpaceFunc

	mu        sync.Mutex
	closed    bool
	nconn     uint64
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
}

type Option func(*Server)

func WithMaxPayload(n uint32) Option {
	return func(s *Server) {
		s.maxPayload = n
	}
}

// WithAllowedUIDs restricts sessions to peers running as one of uids. An
// empty list allows everyone who can open the socket.
func WithAllowedUIDs(uids []uint32) Option {
	return func(s *Server) {
		if len(uids) == 0 {
			s.allowed = nil
			return
		}
		s.allowed = make(map[uint32]bool)
		for _, u := range uids {
			s.allowed[u] = true
		}
	}
}

func WithSpaces(f SpaceFunc) Option {
	return func(s *Server) {
		s.newSpace = f
	}
}

func New(d *dispatch.Dispatcher, hooks *session.Hooks, opts ...Option) *Server {
	s := &Server{
		d:          d,
		hooks:      hooks,
		maxPayload: wire.DefaultMaxPayload,
		newSpace:   func(name string) zone.Space { return session.NewWindow(name) },
		listeners:  make(map[net.Listener]struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Listen creates the control socket at path, replacing a stale socket left
// by a previous run.
func Listen(path string, mode os.FileMode) (net.Listener, error) {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %v", err)
		}
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("could not listen: %v", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod %s: %v", path, err)
	}
	return l, nil
}

func (s *Server) track(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.listeners[l] = struct{}{}
	return true
}

// Serve accepts connections on l until Shutdown. Temporary accept failures
// are retried with backoff.
func (s *Server) Serve(l net.Listener) error {
	if !s.track(l) {
		return ErrServerClosed
	}
	b := &backoff.Backoff{Min: 5 * time.Millisecond, Max: time.Second}
	for {
		c, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				d := b.Duration()
				log.Warnw("accept failed, retrying", "err", err, "delay", d.String())
				time.Sleep(d)
				continue
			}
			return err
		}
		b.Reset()
		if !s.spawn(c) {
			c.Close()
			return ErrServerClosed
		}
	}
}

// spawn starts a session goroutine for c unless Shutdown already ran.
// Shutdown waits for every session spawn accepted.
func (s *Server) spawn(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ServeConn(c)
	}()
	return true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ServeConn runs one session on c and returns when the peer goes away, a
// frame is malformed or the server shuts down. c is closed on return.
func (s *Server) ServeConn(c net.Conn) {
	defer c.Close()

	peer, err := peerOf(c)
	if err != nil {
		log.Errorw("reading peer credentials", "err", err)
		return
	}
	if s.allowed != nil && !s.allowed[peer.UID] {
		log.Warnw("refusing session", "peer", peer.String())
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.conns[c] = struct{}{}
	s.nconn++
	name := fmt.Sprintf("conn %d (%s)", s.nconn, peer)
	s.mu.Unlock()

	sess := s.hooks.Open(peer, s.newSpace(name))
	defer func() {
		s.hooks.Close(sess)
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	for {
		req, err := wire.ReadRequest(c, s.maxPayload)
		if err != nil {
			if err != io.EOF && !s.isClosed() {
				log.Warnw("dropping session", "session", sess.ID, "err", err)
			}
			return
		}
		st, n := s.d.Handle(sess.Space, req.Op, req.Payload)
		if err := wire.WriteResponse(c, &wire.Response{Status: st, Payload: req.Payload[:n]}); err != nil {
			log.Warnw("writing response", "session", sess.ID, "err", err)
			return
		}
	}
}

// Shutdown stops accepting, ends every session and waits for their
// cleanup to finish.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for l := range s.listeners {
		l.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
