package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ASISBusiness/workers-sdk/internal/middleware"
	"github.com/ASISBusiness/workers-sdk/internal/observability"
)

// Selector picks the handoff target among the eligible workers. The
// default draws uniformly at random so no process is systematically
// favoured; tests substitute deterministic selection.
type Selector interface {
	Select(candidates []HandoffCandidate) HandoffCandidate
}

type randomSelector struct{}

func (randomSelector) Select(candidates []HandoffCandidate) HandoffCandidate {
	return candidates[rand.Intn(len(candidates))]
}

// Coordinator runs the ownership handoff protocol when this process is
// about to relinquish the registry.
type Coordinator struct {
	server   *Server
	receiver *HandoffReceiver
	selector Selector
	client   *http.Client
	logger   zerolog.Logger
}

// Relinquish releases any registry ownership held by this process. When
// other live receivers are registered, the full registry state is pushed
// to one of them, chosen by the selector; otherwise the state is
// discarded. The local server and handoff receiver are always stopped,
// whether or not the push succeeds: a failed handoff loses state but must
// never block this process's shutdown. Running it without ownership only
// tears down the receiver.
func (c *Coordinator) Relinquish(ctx context.Context) {
	defer func() {
		if err := c.receiver.Stop(); err != nil {
			c.logger.Debug().Err(err).Msg("closing handoff receiver")
		}
	}()

	store := c.server.Store()
	if store == nil {
		return
	}

	state := store.Snapshot()
	candidates := state.HandoffCandidates(c.receiver.Port())

	// Stop first so the well-known port is free for the candidate to
	// re-bind inside its push handler. A third process probing in that
	// window can win the port instead; the coordination is best-effort.
	if err := c.server.Stop(); err != nil {
		c.logger.Error().Err(err).Msg("stopping registry server")
	}

	if len(candidates) == 0 {
		c.logger.Debug().Int("workers", len(state)).Msg("no handoff candidates, discarding registry state")
		observability.RecordHandoff("discarded")
		return
	}

	candidate := c.selector.Select(candidates)
	if err := c.push(ctx, candidate, state); err != nil {
		// The candidate may have died in the meantime; the state is
		// simply lost.
		c.logger.Warn().Err(err).Str("worker", candidate.Name).Msg("registry handoff failed")
		observability.RecordHandoff("failed")
		return
	}

	observability.RecordHandoff("transferred")
	c.logger.Info().
		Str("worker", candidate.Name).
		Int("port", candidate.Port).
		Int("workers", len(state)).
		Msg("registry state handed off")
}

func (c *Coordinator) push(ctx context.Context, candidate HandoffCandidate, state WorkerRegistry) error {
	body, err := json.Marshal(state)
	if err != nil {
		return err
	}

	url := middleware.GetURLFromHostPort(candidate.Host, candidate.Port) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("handoff push to %s: status %d", url, resp.StatusCode)
	}
	return nil
}
