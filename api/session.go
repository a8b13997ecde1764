package api

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/concil-engine/concil"
	"github.com/warp/concil-engine/config"
	"github.com/warp/concil-engine/scenario"
)

// =============================================================================
// SESSION - One user's reconciliation screen
// =============================================================================

// Session holds the engine and working set of one reconciliation screen.
// The engine is single-threaded: every use goes through mu.
type Session struct {
	ID             string
	Account        string
	Currency       string
	AccountBalance decimal.Decimal
	Scenario       string
	CreatedAt      time.Time

	// lastUsed is the unix nano time of the last request on the session.
	lastUsed atomic.Int64

	mu      sync.Mutex
	engine  *concil.Engine
	ws      *concil.WorkingSet
	events  concil.Dispatcher
	balance concil.Balance
	log     logrus.FieldLogger
}

// newSession builds a session and registers it. Every field read by other
// requests is set before registration.
func (h *Handler) newSession(account, currency, scenarioName string, accountBalance decimal.Decimal) *Session {
	id := uuid.NewString()
	log := h.Log.WithFields(logrus.Fields{"session": id, "account": account})
	s := &Session{
		ID:             id,
		Account:        account,
		Currency:       currency,
		AccountBalance: accountBalance,
		Scenario:       scenarioName,
		CreatedAt:      time.Now().UTC(),
		engine: concil.NewEngine(h.Store,
			concil.WithLogger(log),
			concil.WithActor(h.Actor),
		),
		ws:      concil.NewWorkingSet(),
		balance: concil.Balance{Amount: accountBalance},
		log:     log,
	}

	s.touch()

	// The cache is invalidated before the display is rebuilt.
	s.events.Subscribe(s.engine)
	s.events.Subscribe(concil.ObserverFunc(s.redisplay))

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()
	return s
}

func (s *Session) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

func (s *Session) idleSince() time.Time { return time.Unix(0, s.lastUsed.Load()) }

// redisplay recomputes every proposal and the projected balance.
// Caller holds s.mu.
func (s *Session) redisplay(ctx context.Context, _ concil.Event) error {
	if err := s.engine.Refresh(ctx, s.ws); err != nil {
		return err
	}
	return s.refreshBalance(ctx, concil.BalanceOptions{})
}

func (s *Session) refreshBalance(ctx context.Context, opts concil.BalanceOptions) error {
	b, err := s.engine.BankBalance(ctx, s.AccountBalance, s.ws.Items(), opts)
	if err != nil {
		return err
	}
	s.balance = b
	return nil
}

// resolve maps member references to displayed items, in request order.
func (s *Session) resolve(refs []string) ([]concil.Reconcilable, error) {
	items := make([]concil.Reconcilable, 0, len(refs))
	for _, ref := range refs {
		m, err := scenario.ParseMember(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", concil.ErrInvalidSelection, err)
		}
		item, ok := s.ws.Get(m)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not displayed", concil.ErrInvalidSelection, ref)
		}
		items = append(items, item)
	}
	return items, nil
}

// display inserts items one at a time and returns their proposals.
func (s *Session) display(ctx context.Context, items []concil.Reconcilable) ([]concil.Proposal, error) {
	proposals := make([]concil.Proposal, 0, len(items))
	for _, item := range items {
		p, err := s.engine.Insert(ctx, s.ws, item)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	if err := s.refreshBalance(ctx, concil.BalanceOptions{}); err != nil {
		return nil, err
	}
	return proposals, nil
}

// apply stages an item change in the working set and publishes it.
func (s *Session) apply(ctx context.Context, ev concil.Event, item concil.Reconcilable) error {
	switch ev.Type {
	case concil.EventCreated, concil.EventUpdated:
		s.ws.Put(item)
	case concil.EventDeleted:
		s.ws.Remove(ev.Member)
	}
	return s.events.Publish(ctx, ev)
}

func (s *Session) balanceDTO(b concil.Balance, asOf concil.Date) BalanceDTO {
	return BalanceDTO{
		AccountBalance: s.AccountBalance.StringFixed(2),
		BankBalance:    b.Amount.StringFixed(2),
		Side:           string(b.Side()),
		Display:        b.Format(s.Currency),
		AsOf:           asOf.String(),
	}
}

func (s *Session) dto(ctx context.Context) (SessionDTO, error) {
	proposals, err := s.engine.Proposals(ctx, s.ws)
	if err != nil {
		return SessionDTO{}, err
	}
	return SessionDTO{
		ID:        s.ID,
		Account:   s.Account,
		Currency:  s.Currency,
		Scenario:  s.Scenario,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		Proposals: toProposalDTOs(proposals),
		Balance:   s.balanceDTO(s.balance, concil.Date{}),
	}, nil
}

func (s *Session) proposalDTOs(ctx context.Context) ([]ProposalDTO, error) {
	proposals, err := s.engine.Proposals(ctx, s.ws)
	if err != nil {
		return nil, err
	}
	return toProposalDTOs(proposals), nil
}

// confirm runs Confirm under the session lock and rebuilds the display.
func (s *Session) confirm(ctx context.Context, refs []string, opts concil.ConfirmOptions) (ConfirmResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selection, err := s.resolve(refs)
	if err != nil {
		return ConfirmResponse{}, err
	}
	g, err := s.engine.Confirm(ctx, selection, opts)
	if err != nil {
		return ConfirmResponse{}, err
	}
	if err := s.redisplay(ctx, concil.Event{}); err != nil {
		return ConfirmResponse{}, err
	}
	proposals, err := s.proposalDTOs(ctx)
	if err != nil {
		return ConfirmResponse{}, err
	}
	return ConfirmResponse{
		Group:     toGroupDTO(g),
		Totals:    toTotalsDTO(concil.TotalsOf(selection)),
		Proposals: proposals,
		Balance:   s.balanceDTO(s.balance, concil.Date{}),
	}, nil
}

// unconfirm runs Unconfirm under the session lock and rebuilds the display.
func (s *Session) unconfirm(ctx context.Context, refs []string) (UnconfirmResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selection, err := s.resolve(refs)
	if err != nil {
		return UnconfirmResponse{}, err
	}
	id, err := s.engine.Unconfirm(ctx, selection)
	if err != nil {
		return UnconfirmResponse{}, err
	}
	if err := s.redisplay(ctx, concil.Event{}); err != nil {
		return UnconfirmResponse{}, err
	}
	proposals, err := s.proposalDTOs(ctx)
	if err != nil {
		return UnconfirmResponse{}, err
	}
	return UnconfirmResponse{
		GroupID:   int64(id),
		Proposals: proposals,
		Balance:   s.balanceDTO(s.balance, concil.Date{}),
	}, nil
}

// broadcast publishes ev to every open session except origin, each under its
// own lock. The caller must not hold any session lock.
func (h *Handler) broadcast(ctx context.Context, origin *Session, ev concil.Event) {
	h.mu.RLock()
	others := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s != origin {
			others = append(others, s)
		}
	}
	h.mu.RUnlock()

	// The change is already committed; finish even if the client went away.
	ctx = context.WithoutCancel(ctx)
	for _, s := range others {
		s.mu.Lock()
		err := s.events.Publish(ctx, ev)
		s.mu.Unlock()
		if err != nil {
			config.LogError(s.log, "api", "broadcast", logrus.Fields{"event": ev.Type, "group": ev.GroupID}, err)
		}
	}
}
