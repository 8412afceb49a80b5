package internal

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"sharehub/internal/storage"
)

const (
	// DefaultMaxFileSize is the upload ceiling: 100 MiB.
	DefaultMaxFileSize = 100 * 1024 * 1024

	authLimitBurst  = 10
	authLimitWindow = time.Minute
)

// Server is the hub engine: it owns the shared registries and accepts one
// goroutine per connection.
type Server struct {
	store       *storage.Store
	sessions    *SessionManager
	registry    *Registry
	rooms       *Rooms
	events      *EventHub
	metrics     *Metrics
	presence    *PresenceTracker
	authLimiter *RateLimiter
	uploadDir   string
	maxFileSize int64

	wg sync.WaitGroup
}

// NewServer wires the engine around an opened store. uploadDir must exist.
func NewServer(store *storage.Store, uploadDir string, maxFileSize int64) *Server {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	registry := NewRegistry()
	return &Server{
		store:       store,
		sessions:    NewSessionManager(),
		registry:    registry,
		rooms:       NewRooms(registry, DefaultRooms()),
		events:      NewEventHub(),
		metrics:     NewMetrics(),
		presence:    NewPresenceTracker(),
		authLimiter: NewRateLimiter(authLimitBurst, authLimitWindow),
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
	}
}

// Metrics exposes the counter set for the monitoring surface.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Events exposes the monitoring event hub.
func (s *Server) Events() *EventHub {
	return s.events
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and every live connection and waits for all workers to drain.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.shutdown()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.shutdown()
			return err
		}
		c := newConn(netConn)
		s.registry.Register(c)
		s.metrics.IncConn()
		s.events.Publish(Event{Kind: "connected", Detail: c.RemoteAddr()})
		log.Printf("connection from %s", c.RemoteAddr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(c)
		}()
	}
}

// shutdown closes every live connection, which makes each blocked read
// return an error, and joins the workers.
func (s *Server) shutdown() {
	for _, c := range s.registry.Conns() {
		c.Close()
	}
	s.wg.Wait()
}

// send marshals a payload and writes one control frame to c.
func (s *Server) send(c *Conn, kind string, payload any) error {
	env, err := newEnvelope(kind, payload)
	if err != nil {
		return err
	}
	return c.sendEnvelope(env)
}

// sendError reports a failure the connection survives: a structured error
// envelope with a stable code.
func (s *Server) sendError(c *Conn, kind, code, message string) error {
	return s.send(c, kind, errorPayload{Error: message, Code: code})
}

// Disconnect force-closes the connection at addr, if any. The victim's
// worker observes the closed transport and runs its normal teardown.
func (s *Server) Disconnect(addr string) bool {
	c, ok := s.registry.FindByAddr(addr)
	if !ok {
		return false
	}
	log.Printf("forced disconnect of %s", addr)
	c.Close()
	return true
}

// Snapshot returns a consistent monitoring view of all connections.
func (s *Server) Snapshot() []ConnState {
	return s.registry.Snapshot()
}

// InjectBroadcast delivers a server-originated message to every
// connection, to one room, or to one endpoint. Room injection is
// linearized with membership changes like any other broadcast.
func (s *Server) InjectBroadcast(scope, target, message string) bool {
	env := mustEnvelope(KindMessage, map[string]string{
		"username": "server",
		"message":  message,
		"room_id":  target,
	})
	switch scope {
	case "all":
		for _, c := range s.registry.Conns() {
			_ = c.sendEnvelope(env)
		}
		return true
	case "room":
		if !s.rooms.Exists(target) {
			return false
		}
		s.rooms.Broadcast(target, env, nil)
		return true
	case "endpoint":
		c, ok := s.registry.FindByAddr(target)
		if !ok {
			return false
		}
		_ = c.sendEnvelope(env)
		return true
	}
	return false
}
