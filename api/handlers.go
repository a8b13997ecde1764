/*
handlers.go - HTTP API handlers for the reconciliation engine

PURPOSE:
  Exposes the concil engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the session's engine.

ENDPOINTS:
  Sessions:
    POST   /api/sessions                   Open a session on an account
    GET    /api/sessions/{id}              Proposals and balance
    DELETE /api/sessions/{id}              Close a session
    POST   /api/sessions/{id}/items        Display entries and statement lines
    GET    /api/sessions/{id}/proposals    Current proposals (?recompute=true)
    POST   /api/sessions/{id}/state        Lifecycle state of a selection
    POST   /api/sessions/{id}/confirm      Group a selection
    POST   /api/sessions/{id}/decline      Drop one proposed pairing
    POST   /api/sessions/{id}/unconfirm    Dissolve a group
    GET    /api/sessions/{id}/balance      Projected bank balance (?as_of=)
    POST   /api/sessions/{id}/events       Dataset change notification

  Groups:
    GET    /api/groups                     List persisted groups
    GET    /api/groups/{id}                Group details

ARCHITECTURE:
  Handler holds the shared group store and the open sessions. Each session
  owns its engine (and so its membership cache) and its working set. The
  engine is not safe for concurrent use; handlers lock the session.

ERROR HANDLING:
  - 400: Validation errors, invalid dates, invalid selections
  - 404: Unknown session or group
  - 409: Conflicting groups, already grouped, incomplete selection
  - 422: Imbalanced selection (details carry the totals)
  - 500: Persistence failures

SEE ALSO:
  - dto.go: Request/response data structures
  - session.go: Session lifecycle
  - scenarios.go: Demo datasets
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/concil-engine/concil"
	"github.com/warp/concil-engine/config"
	"github.com/warp/concil-engine/scenario"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    concil.Store
	Log      logrus.FieldLogger
	Actor    string
	Currency string

	// Scenarios available to LoadScenario, by name.
	Scenarios map[string]*scenario.Scenario

	validate *validator.Validate

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHandler creates a handler over store. The built-in scenarios are
// registered.
func NewHandler(store concil.Store, log logrus.FieldLogger, actor, currency string) (*Handler, error) {
	builtin, err := scenario.Builtin()
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in scenarios: %w", err)
	}
	return &Handler{
		Store:     store,
		Log:       log,
		Actor:     actor,
		Currency:  strings.ToUpper(currency),
		Scenarios: builtin,
		validate:  validator.New(),
		sessions:  make(map[string]*Session),
	}, nil
}

// AddScenarios registers extra scenarios, replacing built-ins of the same name.
func (h *Handler) AddScenarios(scenarios map[string]*scenario.Scenario) {
	for name, s := range scenarios {
		h.Scenarios[name] = s
	}
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// CreateSession opens a reconciliation session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	balance, err := parseAmount(req.AccountBalance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid account balance", err)
		return
	}
	currency := h.Currency
	if req.Currency != "" {
		currency = strings.ToUpper(req.Currency)
	}

	s := h.newSession(req.Account, currency, "", balance)
	s.log.Info("session opened")

	s.mu.Lock()
	defer s.mu.Unlock()
	dto, err := s.dto(r.Context())
	if err != nil {
		h.writeDomainError(w, "CreateSession", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// GetSession returns the proposals and balance of a session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dto, err := s.dto(r.Context())
	if err != nil {
		h.writeDomainError(w, "GetSession", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CloseSession discards a session and its cache.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if !h.closeSession(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItems displays new entries and statement lines, entries first, and
// returns their proposals.
func (h *Handler) AddItems(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req AddItemsRequest
	if !h.decode(w, r, &req) {
		return
	}

	items := make([]concil.Reconcilable, 0, len(req.Entries)+len(req.Lines))
	for _, e := range req.Entries {
		entry, err := entryFromDTO(e, s.Account)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid entry %d", e.ID), err)
			return
		}
		items = append(items, entry)
	}
	for _, l := range req.Lines {
		line, err := lineFromDTO(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid statement line %d", l.ID), err)
			return
		}
		items = append(items, line)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	proposals, err := s.display(r.Context(), items)
	if err != nil {
		h.writeDomainError(w, "AddItems", err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionResponse{
		Proposals: toProposalDTOs(proposals),
		Balance:   s.balanceDTO(s.balance, concil.Date{}),
	})
}

// GetProposals returns the proposals of every displayed item.
// With ?recompute=true they are recomputed from scratch first.
func (h *Handler) GetProposals(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	recompute, _ := strconv.ParseBool(r.URL.Query().Get("recompute"))

	s.mu.Lock()
	defer s.mu.Unlock()
	if recompute {
		if err := s.engine.Refresh(r.Context(), s.ws); err != nil {
			h.writeDomainError(w, "GetProposals", err)
			return
		}
	}
	proposals, err := s.proposalDTOs(r.Context())
	if err != nil {
		h.writeDomainError(w, "GetProposals", err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

// GetSelectionState reports which transitions apply to a selection.
func (h *Handler) GetSelectionState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SelectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	selection, err := s.resolve(req.Selection)
	if err != nil {
		h.writeDomainError(w, "GetSelectionState", err)
		return
	}
	state, err := s.engine.StateOf(r.Context(), s.ws, selection)
	if err != nil {
		h.writeDomainError(w, "GetSelectionState", err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{
		State:  string(state),
		Totals: toTotalsDTO(concil.TotalsOf(selection)),
	})
}

// =============================================================================
// TRANSITION HANDLERS
// =============================================================================

// Confirm groups the selection. Other open sessions are told about the
// group once the acting session is unlocked.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	manual, err := concil.ParseDate(req.ManualDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid manual date", err)
		return
	}

	resp, err := s.confirm(r.Context(), req.Selection, concil.ConfirmOptions{
		ManualDate:     manual,
		AllowImbalance: req.AllowImbalance,
	})
	if err != nil {
		h.writeDomainError(w, "Confirm", err)
		return
	}
	h.broadcast(r.Context(), s, concil.Event{Type: concil.EventGroupChanged, GroupID: concil.GroupID(resp.Group.ID)})
	writeJSON(w, http.StatusOK, resp)
}

// Decline drops the proposed pairing of one child item.
func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SelectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := r.Context()
	selection, err := s.resolve(req.Selection)
	if err != nil {
		h.writeDomainError(w, "Decline", err)
		return
	}
	if err := s.engine.Decline(ctx, s.ws, selection); err != nil {
		h.writeDomainError(w, "Decline", err)
		return
	}
	h.writeTransition(w, r, s, "Decline")
}

// Unconfirm dissolves the group of the selection. Other open sessions are
// told once the acting session is unlocked.
func (h *Handler) Unconfirm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SelectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := s.unconfirm(r.Context(), req.Selection)
	if err != nil {
		h.writeDomainError(w, "Unconfirm", err)
		return
	}
	h.broadcast(r.Context(), s, concil.Event{Type: concil.EventGroupChanged, GroupID: concil.GroupID(resp.GroupID)})
	writeJSON(w, http.StatusOK, resp)
}

// GetBalance recomputes the projected bank balance. ?as_of=YYYY-MM-DD skips
// items dated later.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	asOf, err := concil.ParseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := r.Context()
	if !asOf.IsValid() {
		if err := s.refreshBalance(ctx, concil.BalanceOptions{}); err != nil {
			h.writeDomainError(w, "GetBalance", err)
			return
		}
		writeJSON(w, http.StatusOK, s.balanceDTO(s.balance, asOf))
		return
	}
	b, err := s.engine.BankBalance(ctx, s.AccountBalance, s.ws.Items(), concil.BalanceOptions{AsOf: asOf})
	if err != nil {
		h.writeDomainError(w, "GetBalance", err)
		return
	}
	writeJSON(w, http.StatusOK, s.balanceDTO(b, asOf))
}

// PostEvent applies a dataset change notification to the session.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req EventRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, item, err := eventFromRequest(req, s.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.apply(r.Context(), ev, item); err != nil {
		h.writeDomainError(w, "PostEvent", err)
		return
	}
	s.log.WithFields(logrus.Fields{"event": ev.Type, "member": ev.Member.String()}).Debug("event applied")
	h.writeTransition(w, r, s, "PostEvent")
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// ListGroups returns every persisted group.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.List(r.Context())
	if err != nil {
		h.writeDomainError(w, "ListGroups", err)
		return
	}
	dtos := make([]GroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = toGroupDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetGroup returns a persisted group.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid group id", err)
		return
	}
	g, err := h.Store.Get(r.Context(), concil.GroupID(id))
	if err != nil {
		h.writeDomainError(w, "GetGroup", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) closeSession(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	return ok
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := chi.URLParam(r, "id")
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return nil, false
	}
	s.touch()
	return s, true
}

// decode reads the JSON body into req and validates it. On failure it
// writes the 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Code:    "validation_failed",
				Details: fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func (h *Handler) writeTransition(w http.ResponseWriter, r *http.Request, s *Session, funcName string) {
	proposals, err := s.proposalDTOs(r.Context())
	if err != nil {
		h.writeDomainError(w, funcName, err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionResponse{
		Proposals: proposals,
		Balance:   s.balanceDTO(s.balance, concil.Date{}),
	})
}

// writeDomainError maps engine outcomes to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, funcName string, err error) {
	var (
		imbalanced  *concil.ImbalancedSelectionError
		conflicting *concil.ConflictingGroupsError
	)
	switch {
	case errors.As(err, &imbalanced):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Selection is not balanced",
			Code:    "imbalanced_selection",
			Details: toTotalsDTO(imbalanced.Totals),
		})
	case errors.As(err, &conflicting):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Selection spans several groups",
			Code:    "conflicting_groups",
			Details: conflicting.GroupIDs,
		})
	case errors.Is(err, concil.ErrAlreadyGrouped):
		writeCodedError(w, http.StatusConflict, "already_grouped", err)
	case errors.Is(err, concil.ErrDuplicateMembership):
		writeCodedError(w, http.StatusConflict, "duplicate_membership", err)
	case errors.Is(err, concil.ErrIncompleteSelection):
		writeCodedError(w, http.StatusConflict, "incomplete_selection", err)
	case errors.Is(err, concil.ErrNoValidDate):
		writeCodedError(w, http.StatusBadRequest, "no_valid_date", err)
	case errors.Is(err, concil.ErrInvalidDate):
		writeCodedError(w, http.StatusBadRequest, "invalid_date", err)
	case errors.Is(err, concil.ErrInvalidSelection):
		writeCodedError(w, http.StatusBadRequest, "invalid_selection", err)
	case errors.Is(err, concil.ErrGroupNotFound):
		writeCodedError(w, http.StatusNotFound, "group_not_found", err)
	default:
		config.LogError(h.Log, "api", funcName, nil, err)
		writeCodedError(w, http.StatusInternalServerError, "internal", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeCodedError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// =============================================================================
// ITEM CONVERSIONS
// =============================================================================

func entryFromDTO(dto EntryDTO, account string) (concil.Entry, error) {
	debit, err := parseAmount(dto.Debit)
	if err != nil {
		return concil.Entry{}, fmt.Errorf("debit: %w", err)
	}
	credit, err := parseAmount(dto.Credit)
	if err != nil {
		return concil.Entry{}, fmt.Errorf("credit: %w", err)
	}
	date, err := concil.ParseDate(dto.Date)
	if err != nil {
		return concil.Entry{}, err
	}
	if dto.Account != "" {
		account = dto.Account
	}
	return concil.Entry{
		ID:         dto.ID,
		Account:    account,
		Label:      dto.Label,
		Ref:        dto.Ref,
		Debit:      debit,
		Credit:     credit,
		EffectDate: date,
		Deleted:    dto.Deleted,
	}, nil
}

func lineFromDTO(dto LineDTO) (concil.StatementLine, error) {
	amount, err := parseAmount(dto.Amount)
	if err != nil {
		return concil.StatementLine{}, fmt.Errorf("amount: %w", err)
	}
	date, err := concil.ParseDate(dto.ValueDate)
	if err != nil {
		return concil.StatementLine{}, err
	}
	return concil.StatementLine{
		ID:        dto.ID,
		BatID:     dto.BatID,
		Label:     dto.Label,
		Ref:       dto.Ref,
		Amount:    amount,
		ValueDate: date,
	}, nil
}

// eventFromRequest builds the event and, for created and updated events,
// the new version of the item.
func eventFromRequest(req EventRequest, account string) (concil.Event, concil.Reconcilable, error) {
	typ, err := concil.ParseEventType(req.Type)
	if err != nil {
		return concil.Event{}, nil, err
	}
	ev := concil.Event{Type: typ, GroupID: concil.GroupID(req.GroupID)}

	var item concil.Reconcilable
	switch {
	case req.Entry != nil && req.Line != nil:
		return concil.Event{}, nil, errors.New("event carries both an entry and a line")
	case req.Entry != nil:
		if item, err = entryFromDTO(*req.Entry, account); err != nil {
			return concil.Event{}, nil, err
		}
	case req.Line != nil:
		if item, err = lineFromDTO(*req.Line); err != nil {
			return concil.Event{}, nil, err
		}
	}

	switch typ {
	case concil.EventCreated, concil.EventUpdated:
		if item == nil {
			return concil.Event{}, nil, fmt.Errorf("%s event needs an entry or a line", typ)
		}
		ev.Member = item.Member()
	case concil.EventDeleted:
		if ev.Member, err = scenario.ParseMember(req.Member); err != nil {
			return concil.Event{}, nil, err
		}
	case concil.EventGroupChanged:
		if ev.GroupID <= 0 {
			return concil.Event{}, nil, errors.New("group_changed event needs a group_id")
		}
	}
	return ev, item, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
