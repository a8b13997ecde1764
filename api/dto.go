/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the concil domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS AND DATES:
  Amounts are decimal strings ("-100.00") so no precision is lost.
  Dates are "YYYY-MM-DD". Members are referenced as "E:12" (ledger entry)
  or "B:7" (bank statement line).

VALIDATION:
  Request types carry go-playground/validator tags, checked by decode()
  before a handler runs.

SEE ALSO:
  - handlers.go: Uses these types
  - concil/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/concil-engine/concil"
)

// =============================================================================
// ITEMS
// =============================================================================

// EntryDTO is a ledger entry as sent by clients.
type EntryDTO struct {
	ID      int64  `json:"id" validate:"required,gt=0"`
	Account string `json:"account,omitempty"`
	Label   string `json:"label,omitempty"`
	Ref     string `json:"ref,omitempty"`
	Debit   string `json:"debit,omitempty" validate:"omitempty,numeric"`
	Credit  string `json:"credit,omitempty" validate:"omitempty,numeric"`
	Date    string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Deleted bool   `json:"deleted,omitempty"`
}

// LineDTO is a bank statement line as sent by clients.
type LineDTO struct {
	ID        int64  `json:"id" validate:"required,gt=0"`
	BatID     int64  `json:"bat_id,omitempty"`
	Label     string `json:"label,omitempty"`
	Ref       string `json:"ref,omitempty"`
	Amount    string `json:"amount" validate:"required,numeric"`
	ValueDate string `json:"value_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ItemDTO is a displayed item in API responses.
type ItemDTO struct {
	Member  string `json:"member"`
	Kind    string `json:"kind"`
	ID      int64  `json:"id"`
	Label   string `json:"label,omitempty"`
	Ref     string `json:"ref,omitempty"`
	Amount  string `json:"amount"`
	Date    string `json:"date,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// ProposalDTO is the suggested display position of one item.
type ProposalDTO struct {
	Item    ItemDTO `json:"item"`
	Parent  string  `json:"parent,omitempty"`
	Reason  string  `json:"reason"`
	GroupID int64   `json:"group_id,omitempty"`
}

// AddItemsRequest displays new items in the session, entries first.
type AddItemsRequest struct {
	Entries []EntryDTO `json:"entries" validate:"dive"`
	Lines   []LineDTO  `json:"lines" validate:"dive"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSessionRequest opens a reconciliation session on an account.
type CreateSessionRequest struct {
	Account        string `json:"account" validate:"required"`
	AccountBalance string `json:"account_balance,omitempty" validate:"omitempty,numeric"`
	Currency       string `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
}

// SessionDTO represents a session in API responses.
type SessionDTO struct {
	ID        string        `json:"id"`
	Account   string        `json:"account"`
	Currency  string        `json:"currency"`
	Scenario  string        `json:"scenario,omitempty"`
	CreatedAt string        `json:"created_at"`
	Proposals []ProposalDTO `json:"proposals"`
	Balance   BalanceDTO    `json:"balance"`
}

// BalanceDTO is the projected bank balance of a session.
type BalanceDTO struct {
	AccountBalance string `json:"account_balance"`
	BankBalance    string `json:"bank_balance"`
	Side           string `json:"side"`
	Display        string `json:"display"`
	AsOf           string `json:"as_of,omitempty"`
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// SelectionRequest names displayed items by member reference.
type SelectionRequest struct {
	Selection []string `json:"selection" validate:"required,min=1,dive,required"`
}

// ConfirmRequest groups the selection.
type ConfirmRequest struct {
	Selection      []string `json:"selection" validate:"required,min=1,dive,required"`
	ManualDate     string   `json:"manual_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	AllowImbalance bool     `json:"allow_imbalance,omitempty"`
}

// TotalsDTO sums a selection.
type TotalsDTO struct {
	Debit      string `json:"debit"`
	Credit     string `json:"credit"`
	Difference string `json:"difference"`
	Balanced   bool   `json:"balanced"`
}

// StateResponse reports the lifecycle state of a selection.
type StateResponse struct {
	State  string    `json:"state"`
	Totals TotalsDTO `json:"totals"`
}

// ConfirmResponse is returned by a successful Confirm.
type ConfirmResponse struct {
	Group     GroupDTO      `json:"group"`
	Totals    TotalsDTO     `json:"totals"`
	Proposals []ProposalDTO `json:"proposals"`
	Balance   BalanceDTO    `json:"balance"`
}

// UnconfirmResponse is returned by a successful Unconfirm.
type UnconfirmResponse struct {
	GroupID   int64         `json:"group_id"`
	Proposals []ProposalDTO `json:"proposals"`
	Balance   BalanceDTO    `json:"balance"`
}

// TransitionResponse is returned by transitions that change no group.
type TransitionResponse struct {
	Proposals []ProposalDTO `json:"proposals"`
	Balance   BalanceDTO    `json:"balance"`
}

// EventRequest notifies the session of a dataset change. Entry or Line
// carries the new item for created and updated events.
type EventRequest struct {
	Type    string    `json:"type" validate:"required,oneof=created updated deleted group_changed reloaded"`
	Member  string    `json:"member,omitempty" validate:"required_if=Type deleted"`
	GroupID int64     `json:"group_id,omitempty" validate:"required_if=Type group_changed,gte=0"`
	Entry   *EntryDTO `json:"entry,omitempty"`
	Line    *LineDTO  `json:"line,omitempty"`
}

// =============================================================================
// GROUPS
// =============================================================================

// GroupDTO represents a persisted group.
type GroupDTO struct {
	ID            int64    `json:"id"`
	EffectiveDate string   `json:"effective_date"`
	CreatedBy     string   `json:"created_by"`
	CreatedAt     string   `json:"created_at"`
	Members       []string `json:"members"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo dataset.
type ScenarioDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Account     string `json:"account"`
	Items       int    `json:"items"`
	Groups      int    `json:"groups"`
}

// LoadScenarioRequest opens a session on a demo dataset.
type LoadScenarioRequest struct {
	Name string `json:"name" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toItemDTO(item concil.Reconcilable) ItemDTO {
	m := item.Member()
	dto := ItemDTO{
		Member: m.String(),
		Kind:   string(m.Kind),
		ID:     m.ExternalID,
		Amount: item.SignedAmount().StringFixed(2),
		Date:   item.Date().String(),
	}
	switch v := item.(type) {
	case concil.Entry:
		dto.Label, dto.Ref, dto.Deleted = v.Label, v.Ref, v.Deleted
	case concil.StatementLine:
		dto.Label, dto.Ref = v.Label, v.Ref
	}
	return dto
}

func toProposalDTOs(proposals []concil.Proposal) []ProposalDTO {
	dtos := make([]ProposalDTO, len(proposals))
	for i, p := range proposals {
		dtos[i] = ProposalDTO{
			Item:    toItemDTO(p.Item),
			Reason:  string(p.Reason),
			GroupID: int64(p.GroupID),
		}
		if p.Parent != nil {
			dtos[i].Parent = p.Parent.Member().String()
		}
	}
	return dtos
}

func toGroupDTO(g *concil.Group) GroupDTO {
	dto := GroupDTO{
		ID:            int64(g.ID),
		EffectiveDate: g.EffectiveDate.String(),
		CreatedBy:     g.CreatedBy,
		Members:       make([]string, 0, g.Len()),
	}
	if !g.CreatedAt.IsZero() {
		dto.CreatedAt = g.CreatedAt.Format(time.RFC3339)
	}
	g.ForEachMember(func(m concil.Member) {
		dto.Members = append(dto.Members, m.String())
	})
	return dto
}

func toTotalsDTO(t concil.Totals) TotalsDTO {
	return TotalsDTO{
		Debit:      t.Debit.StringFixed(2),
		Credit:     t.Credit.StringFixed(2),
		Difference: t.Difference().StringFixed(2),
		Balanced:   t.Balanced(),
	}
}
