package registry

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// HandoffReceiver is the short-lived endpoint through which this process
// can be handed the registry when its current owner exits. It listens on
// an ephemeral loopback port; that port is advertised in this process's
// own worker definitions.
type HandoffReceiver struct {
	logger zerolog.Logger
	accept func(WorkerRegistry)

	mutex sync.Mutex
	srv   *http.Server
	port  int
}

// NewHandoffReceiver creates a receiver that invokes accept with the full
// transferred registry state.
func NewHandoffReceiver(logger zerolog.Logger, accept func(WorkerRegistry)) *HandoffReceiver {
	return &HandoffReceiver{logger: logger, accept: accept}
}

// Start binds an ephemeral loopback port and begins listening for a
// handoff push. Starting a running receiver is a no-op.
func (h *HandoffReceiver) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", DefaultHost+":0")
	if err != nil {
		return fmt.Errorf("binding handoff receiver: %w", err)
	}
	h.port = ln.Addr().(*net.TCPAddr).Port

	h.srv = &http.Server{Handler: http.HandlerFunc(h.handlePush)}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Debug().Err(err).Msg("handoff receiver stopped")
		}
	}(h.srv)

	h.logger.Debug().Int("port", h.port).Msg("handoff receiver listening")
	return nil
}

func (h *HandoffReceiver) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var reg WorkerRegistry
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, "invalid registry state", http.StatusBadRequest)
		return
	}

	h.logger.Info().Int("workers", len(reg)).Msg("received registry handoff")
	h.accept(reg)
	writeNull(w)
}

// Port returns the bound ephemeral port, or 0 when the receiver is not
// running.
func (h *HandoffReceiver) Port() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.srv == nil {
		return 0
	}
	return h.port
}

// Stop closes the receiver. Stopping a stopped receiver is a no-op.
func (h *HandoffReceiver) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.srv == nil {
		return nil
	}
	err := h.srv.Close()
	h.srv = nil
	h.port = 0
	return err
}
