package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/ASISBusiness/workers-sdk/internal/middleware"
)

// The registry lives on a fixed loopback port known to every
// participating process.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 6284

	defaultDrainTimeout = 5 * time.Second
)

// Options configures a registry Service. The zero value of each field
// falls back to a default.
type Options struct {
	// Host and Port of the well-known registry address.
	Host string
	Port int

	// DrainTimeout bounds how long a stopping server waits for in-flight
	// requests.
	DrainTimeout time.Duration

	// Selector overrides handoff candidate selection.
	Selector Selector

	// HTTPClient overrides the client used for registry calls.
	HTTPClient *http.Client

	Logger *zerolog.Logger
}

// Service is the public registry API used by worker processes: register,
// unregister, enumerate and filter. All registry interaction goes over
// the well-known port, even when this process is the owner itself, and
// all of it is best-effort: an absent registry must never stop a worker
// from doing its actual job.
type Service struct {
	baseURL  string
	logger   zerolog.Logger
	client   *http.Client
	server   *Server
	receiver *HandoffReceiver
	coord    *Coordinator
}

func NewService(opts Options) *Service {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.Selector == nil {
		opts.Selector = randomSelector{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}

	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = zerolog.Nop()
	}

	s := &Service{
		baseURL: middleware.GetURLFromHostPort(opts.Host, opts.Port),
		logger:  logger,
		client:  opts.HTTPClient,
		server:  NewServer(opts.Host, opts.Port, opts.DrainTimeout, logger),
	}
	s.receiver = NewHandoffReceiver(logger, s.acceptHandoff)
	s.coord = &Coordinator{
		server:   s.server,
		receiver: s.receiver,
		selector: opts.Selector,
		client:   opts.HTTPClient,
		logger:   logger,
	}
	return s
}

// acceptHandoff installs the transferred state and claims ownership. By
// the time a handoff push arrives the previous owner has already released
// the well-known port.
func (s *Service) acceptHandoff(reg WorkerRegistry) {
	if store := s.server.Store(); store != nil {
		store.Replace(reg)
		return
	}
	if err := s.server.Start(reg); err != nil {
		s.logger.Error().Err(err).Msg("claiming registry ownership after handoff")
	}
}

// StartRegistry attempts to make this process the registry owner. It is a
// no-op when the well-known port is already claimed.
func (s *Service) StartRegistry() error {
	return s.server.Start(nil)
}

// Owner reports whether this process currently runs the registry server.
func (s *Service) Owner() bool {
	return s.server.Running()
}

// RegisterWorker announces a worker to whatever registry is reachable at
// the well-known port, becoming the owner first if the port is free. The
// definition is sent with this process's handoff receiver port merged in.
// No reachable registry at all is an expected state and not an error;
// other failures are logged at error severity and returned, but callers
// are expected to treat them as best-effort.
func (s *Service) RegisterWorker(ctx context.Context, name string, def WorkerDefinition) error {
	if err := s.receiver.Start(); err != nil {
		// Register anyway; this worker just cannot take over the registry.
		s.logger.Error().Err(err).Str("worker", name).Msg("starting handoff receiver")
	}
	if port := s.receiver.Port(); port != 0 {
		def.HandoffReceiverPort = &port
	}

	if err := s.server.Start(nil); err != nil {
		s.logger.Error().Err(err).Msg("starting registry server")
	}

	if err := s.post(ctx, "/workers/"+url.PathEscape(name), def); err != nil {
		if isConnectionError(err) {
			s.logger.Debug().Err(err).Str("worker", name).Msg("no registry reachable, skipping registration")
			return nil
		}
		s.logger.Error().Err(err).Str("worker", name).Msg("worker registration failed")
		return err
	}

	s.logger.Debug().Str("worker", name).Msg("worker registered")
	return nil
}

// UnregisterWorker removes the worker's entry and then relinquishes any
// registry ownership this process holds, handing state off to another
// live participant when one exists. An unreachable registry counts as
// already unregistered; any other failure propagates before ownership is
// touched.
func (s *Service) UnregisterWorker(ctx context.Context, name string) error {
	if err := s.delete(ctx, "/workers/"+url.PathEscape(name)); err != nil {
		if !isConnectionError(err) {
			s.logger.Error().Err(err).Str("worker", name).Msg("worker unregistration failed")
			return err
		}
		s.logger.Debug().Err(err).Str("worker", name).Msg("no registry reachable, nothing to unregister")
	}

	s.coord.Relinquish(ctx)
	return nil
}

// RegisteredWorkers returns the full registry, or a nil map when no
// registry is currently running anywhere on this host.
func (s *Service) RegisteredWorkers(ctx context.Context) (WorkerRegistry, error) {
	var reg WorkerRegistry
	if err := s.get(ctx, "/workers", &reg); err != nil {
		if isConnectionError(err) {
			s.logger.Debug().Err(err).Msg("no registry reachable")
			return nil, nil
		}
		s.logger.Error().Err(err).Msg("listing registered workers failed")
		return nil, err
	}
	return reg, nil
}

// BoundRegisteredWorkers returns only the registered workers the given
// bindings declare a dependency on.
func (s *Service) BoundRegisteredWorkers(ctx context.Context, bindings Bindings) (WorkerRegistry, error) {
	reg, err := s.RegisteredWorkers(ctx)
	if err != nil || reg == nil {
		return nil, err
	}
	return bindings.Filter(reg), nil
}

// Shutdown relinquishes ownership and releases this process's local
// server and receiver. Safe to call when nothing was ever started.
func (s *Service) Shutdown(ctx context.Context) {
	s.coord.Relinquish(ctx)
}

func (s *Service) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, nil)
}

func (s *Service) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	return s.do(req, nil)
}

func (s *Service) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	return s.do(req, out)
}

func (s *Service) do(req *http.Request, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
