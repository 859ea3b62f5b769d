// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package wsfeed broadcasts published readings as JSON text messages to
// WebSocket clients.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	logger "github.com/d2r2/go-logger"
	"github.com/gorilla/websocket"

	"github.com/GermanBionicSystems/bme280mon/monitor"
)

var lg = logger.NewPackageLogger("wsfeed", logger.InfoLevel)

// writeWait bounds how long a slow client may hold up a broadcast.
const writeWait = time.Second

// Server is an http.Handler upgrading requests to WebSocket connections.
//
// Each client receives the latest reading on connect, then every reading
// passed to Broadcast.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	last    []byte
	closed  bool
}

// New returns a Server accepting any origin.
func New() *Server {
	return &Server{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		lg.Warnf("Upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		ws.Close()
		return
	}
	if s.last != nil {
		if err := s.write(ws, s.last); err != nil {
			s.mu.Unlock()
			ws.Close()
			return
		}
	}
	s.clients[ws] = true
	s.mu.Unlock()
	lg.Infof("Client %s connected", r.RemoteAddr)

	// Drain reads so control frames are processed and disconnects noticed.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	if s.clients[ws] {
		delete(s.clients, ws)
		ws.Close()
	}
	s.mu.Unlock()
	lg.Infof("Client %s disconnected", r.RemoteAddr)
}

// Broadcast sends r to every client. Clients failing the write are dropped.
func (s *Server) Broadcast(r monitor.Reading) error {
	msg, err := json.Marshal(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = msg
	for c := range s.clients {
		if err := s.write(c, msg); err != nil {
			lg.Warnf("Dropping client %s: %v", c.RemoteAddr(), err)
			c.Close()
			delete(s.clients, c)
		}
	}
	return nil
}

// Run broadcasts every reading received on ch until ch is closed or ctx is
// done, then disconnects all clients.
func (s *Server) Run(ctx context.Context, ch <-chan monitor.Reading) error {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Broadcast(r); err != nil {
				lg.Errorf("Broadcast failed: %v", err)
			}
		}
	}
}

// Close sends a close frame to every client and rejects new ones.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	deadline := time.Now().Add(writeWait)
	for c := range s.clients {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
		c.Close()
		delete(s.clients, c)
	}
}

// ListenAndServe serves s on addr at path until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, s)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		lg.Infof("Serving %s on %s", path, addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return ctx.Err()
	}
}

// write must be called with s.mu held.
func (s *Server) write(c *websocket.Conn, msg []byte) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(websocket.TextMessage, msg)
}
