package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ASISBusiness/workers-sdk/internal/middleware"
	"github.com/ASISBusiness/workers-sdk/internal/observability"
)

// Server is the registry server bound to the well-known port. At most one
// instance exists across all participating processes at any time; the
// operating system's bind exclusivity is the lock.
type Server struct {
	addr         string
	drainTimeout time.Duration
	logger       zerolog.Logger

	mutex sync.Mutex
	store *Store
	srv   *http.Server
}

func NewServer(host string, port int, drainTimeout time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		drainTimeout: drainTimeout,
		logger:       logger,
	}
}

// Start binds the well-known port and begins serving, making this process
// the registry owner. It is a no-op when this process already runs the
// server, or when another process holds the port. initial, when non-nil,
// seeds the store before the first request is served.
func (s *Server) Start(initial WorkerRegistry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.srv != nil {
		return nil
	}

	available, err := isPortAvailable(s.addr)
	if err != nil {
		return err
	}
	if !available {
		s.logger.Debug().Str("addr", s.addr).Msg("registry port taken, not starting server")
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		// Another process won the bind between probe and listen.
		if errors.Is(err, syscall.EADDRINUSE) {
			s.logger.Debug().Str("addr", s.addr).Msg("lost registry port race")
			return nil
		}
		return err
	}

	store := NewStore()
	if initial != nil {
		store.Replace(initial)
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(s.logger))
	router.Use(observability.MetricsMiddleware)
	s.routes(router, store)

	s.store = store
	s.srv = &http.Server{Handler: router}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("registry server stopped")
		}
	}(s.srv)

	s.logger.Info().Str("addr", s.addr).Msg("registry server started")
	return nil
}

// Stop drains in-flight requests, bounded by the drain timeout, then
// releases the well-known port. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)

	s.srv = nil
	s.store = nil
	s.logger.Info().Str("addr", s.addr).Msg("registry server stopped")
	return err
}

// Running reports whether this process currently owns the registry.
func (s *Server) Running() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.srv != nil
}

// Store returns the live registry store, or nil when this process is not
// the owner.
func (s *Server) Store() *Store {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.store
}

func (s *Server) routes(router *mux.Router, store *Store) {
	router.HandleFunc("/workers", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewEncoder(w).Encode(store.Snapshot()); err != nil {
			s.logger.Debug().Err(err).Msg("error encoding workers response")
		}
	}).Methods(http.MethodGet)

	router.HandleFunc("/workers", func(w http.ResponseWriter, r *http.Request) {
		store.Clear()
		writeNull(w)
	}).Methods(http.MethodDelete)

	router.HandleFunc("/workers/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		var def WorkerDefinition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			http.Error(w, "invalid worker definition", http.StatusBadRequest)
			return
		}
		// Values are stored as-is; validating them is the client's problem.
		store.Set(name, def)
		writeNull(w)
	}).Methods(http.MethodPost)

	router.HandleFunc("/workers/{name}", func(w http.ResponseWriter, r *http.Request) {
		store.Remove(mux.Vars(r)["name"])
		writeNull(w)
	}).Methods(http.MethodDelete)
}

func writeNull(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("null"))
}
