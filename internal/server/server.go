// Package server hosts the demo room: it ticks the authority simulation
// and streams its replicated state to websocket receivers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/ecsync/internal/config"
	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/internal/core/protocol"
	"github.com/zeusync/ecsync/internal/demo/simulation"
	"github.com/zeusync/ecsync/pkg/schema"
)

const shutdownTimeout = 5 * time.Second

// Server owns the simulation. Ticks, joins and leaves are serialized by mu,
// so the world and the encoder are only ever touched by one goroutine at
// a time.
type Server struct {
	cfg  config.Server
	log  log.Log
	auth Authenticator

	mu       sync.Mutex
	sim      *simulation.Simulation
	enc      *schema.Encoder
	sessions map[uuid.UUID]*session
	ticks    uint64
	patches  uint64
	closed   bool

	upgrader websocket.Upgrader
	running  atomic.Bool
}

type Option func(*Server)

func WithLogger(l log.Log) Option {
	return func(s *Server) { s.log = l }
}

func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// Stats is a snapshot of the room.
type Stats struct {
	Sessions int     `json:"sessions"`
	Ticks    uint64  `json:"ticks"`
	Patches  uint64  `json:"patches"`
	Entities int     `json:"entities"`
	Elapsed  float64 `json:"elapsedMs"`
}

func New(cfg config.Server, sim *simulation.Simulation, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		sim:      sim,
		enc:      schema.NewEncoder(sim.World.Context()),
		sessions: make(map[uuid.UUID]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.Provide()
	}
	s.log = s.log.With(log.String("component", "server"))
	if s.auth == nil {
		s.auth = TokenAuth{Token: cfg.Token}
	}

	// the first encode carries the whole tree; later ones are deltas
	if _, err := s.enc.Encode(sim.State); err != nil {
		s.log.Error("initial encode failed", log.Error(err))
	}
	s.log.Info("server created",
		log.String("addr", cfg.Addr),
		log.Int("tick_rate", cfg.TickRate),
		log.Int("patch_rate", cfg.PatchRate),
		log.Int("max_clients", cfg.MaxClients))
	return s
}

// Handler serves the room endpoint and a health endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Run listens on the configured address and ticks the room until ctx is
// done, then stops the simulation, sends the last patch and closes every
// session.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.log.Info("server listening", log.String("addr", ln.Addr().String()), log.String("path", s.cfg.Path))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return s.loop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	s.log.Info("server stopped", log.Uint64("ticks", s.Stats().Ticks))
	return err
}

func (s *Server) loop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRate))
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Tick(float64(now.Sub(last)) / float64(time.Millisecond))
			last = now
		}
	}
}

// Tick advances the simulation by delta milliseconds and, every
// TickRate/PatchRate ticks, broadcasts the accumulated changes.
func (s *Server) Tick(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sim.Step(delta)
	s.ticks++
	if s.ticks%s.patchEvery() == 0 {
		s.broadcastLocked()
	}
}

func (s *Server) patchEvery() uint64 {
	if s.cfg.PatchRate <= 0 {
		return 1
	}
	return uint64(max(s.cfg.TickRate/s.cfg.PatchRate, 1))
}

func (s *Server) broadcastLocked() {
	patch, err := s.enc.Encode(s.sim.State)
	if err != nil {
		s.log.Error("encode failed", log.Error(err))
		return
	}
	if patch == nil {
		return
	}
	s.patches++
	frame := protocol.Frame(protocol.KindPatch, patch)
	for _, sess := range s.sessions {
		if err := sess.enqueue(frame); err != nil {
			sess.log.Warn("dropping session", log.Error(err))
			s.dropLocked(sess)
		}
	}
	s.log.Debug("patch broadcast",
		log.Int("bytes", len(patch)),
		log.Int("sessions", len(s.sessions)),
		log.Uint64("tick", s.ticks))
}

// SetSpeedMultiplier forwards a reloaded tunable to the simulation.
func (s *Server) SetSpeedMultiplier(m float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sim.SetSpeedMultiplier(m)
	s.log.Info("speed multiplier changed", log.Float64("speed_multiplier", m))
}

// Close stops the simulation, flushes its final changes to every session
// and disconnects them. It is safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sim.Stop()
	s.broadcastLocked()
	s.closed = true
	for _, sess := range s.sessions {
		s.dropLocked(sess)
	}
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Sessions: len(s.sessions),
		Ticks:    s.ticks,
		Patches:  s.patches,
		Entities: s.sim.State.Entities.Len(),
		Elapsed:  s.sim.Elapsed(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		s.log.Warn("health response failed", log.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Authenticate(r); err != nil {
		s.log.Warn("connection rejected", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err := s.admit(); err != nil {
		s.log.Warn("connection rejected", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return
	}
	sess := newSession(conn, s.log)
	if err = s.join(sess); err != nil {
		sess.log.Warn("join failed", log.Error(err))
		_ = conn.Close()
		return
	}

	go sess.writePump()
	sess.readPump()
	s.leave(sess)
}

func (s *Server) admit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked()
}

func (s *Server) admitLocked() error {
	switch {
	case s.closed:
		return ErrServerClosed
	case s.cfg.MaxClients > 0 && len(s.sessions) >= s.cfg.MaxClients:
		return ErrMaxClientsReached
	}
	return nil
}

// join queues the handshake and the full state, then registers the session
// so it receives every later patch in order.
func (s *Server) join(sess *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.admitLocked(); err != nil {
		return err
	}
	hs, err := protocol.EncodeHandshake(protocol.Handshake{
		Session:     sess.id.String(),
		Fingerprint: s.sim.World.Context().Fingerprint(),
		TickRate:    s.cfg.TickRate,
		PatchRate:   s.cfg.PatchRate,
	})
	if err != nil {
		return err
	}
	full, err := s.enc.EncodeAll(s.sim.State)
	if err != nil {
		return err
	}
	if err = sess.enqueue(hs); err != nil {
		return err
	}
	if err = sess.enqueue(protocol.Frame(protocol.KindFullState, full)); err != nil {
		return err
	}
	s.sessions[sess.id] = sess
	sess.log.Info("session joined",
		log.String("remote_addr", sess.conn.RemoteAddr().String()),
		log.Int("full_state_bytes", len(full)),
		log.Int("sessions", len(s.sessions)))
	return nil
}

func (s *Server) leave(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.id]; ok {
		s.dropLocked(sess)
	}
}

func (s *Server) dropLocked(sess *session) {
	delete(s.sessions, sess.id)
	sess.close()
	sess.log.Info("session left",
		log.Duration("connected", time.Since(sess.connectedAt)),
		log.Int("sessions", len(s.sessions)))
}
