/*
scenarios.go - Demo dataset endpoints

PURPOSE:
  Lists the available scenarios and opens a session on one. Loading a
  scenario seeds its pre-existing groups in the shared store (skipped when
  already present), then displays its items in order so the proposals and
  balance match what a user would see.

ENDPOINTS:
  GET  /api/scenarios        List scenarios
  POST /api/scenarios/load   Open a session on a scenario

SEE ALSO:
  - scenario/scenario.go: YAML format
  - scenario/builtin/: Shipped scenarios
*/
package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/warp/concil-engine/concil"
	"github.com/warp/concil-engine/scenario"
)

// ListScenarios returns all registered scenarios sorted by name.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.Scenarios))
	for name := range h.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	dtos := make([]ScenarioDTO, len(names))
	for i, name := range names {
		dtos[i] = toScenarioDTO(h.Scenarios[name])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario opens a new session on a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	sc, ok := h.Scenarios[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "Scenario not found", nil)
		return
	}

	currency := h.Currency
	if sc.Currency != "" {
		currency = sc.Currency
	}
	s := h.newSession(sc.Account, currency, sc.Name, sc.AccountBalance)

	ctx := r.Context()
	dto, err := s.load(ctx, sc)
	if err != nil {
		h.closeSession(s.ID)
		h.writeDomainError(w, "LoadScenario", err)
		return
	}
	// Seeded groups may cover items other sessions cached as ungrouped.
	if len(sc.Groups) > 0 {
		h.broadcast(ctx, s, concil.Event{Type: concil.EventReloaded})
	}
	s.log.WithField("scenario", sc.Name).Info("scenario loaded")
	writeJSON(w, http.StatusCreated, dto)
}

// load seeds the scenario's groups and displays its items.
func (s *Session) load(ctx context.Context, sc *scenario.Scenario) (SessionDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := sc.Seed(ctx, s.engine); err != nil {
		return SessionDTO{}, err
	}
	if _, err := s.display(ctx, sc.Items); err != nil {
		return SessionDTO{}, err
	}
	return s.dto(ctx)
}

func toScenarioDTO(s *scenario.Scenario) ScenarioDTO {
	return ScenarioDTO{
		Name:        s.Name,
		Description: s.Description,
		Account:     s.Account,
		Items:       len(s.Items),
		Groups:      len(s.Groups),
	}
}
