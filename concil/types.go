/*
Package concil provides the bank reconciliation group engine.

PURPOSE:
  This package groups ledger entries and imported bank statement lines
  into reconciliation groups ("concils"). It proposes pairings between
  entries and lines, confirms or dissolves groups, and computes the bank
  balance that should agree with the statement.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind/Member: Type-safe (kind, external id) pair identifying a group member
  - Reconcilable: Capability of anything that can join a group
  - Entry: A posted ledger entry (credit positive, debit negative)
  - StatementLine: An imported bank statement line (inflow positive)

SIGN CONVENTION:
  Both variants expose a single SignedAmount so that a matching pair sums
  to zero:
    Entry:          Credit - Debit
    StatementLine:  Amount (positive = credit/inflow, negative = debit/outflow)

USAGE:
  e := concil.Entry{ID: 12, Credit: concil.MustParseDecimal("100")}
  l := concil.StatementLine{ID: 7, Amount: concil.MustParseDecimal("-100")}
  e.SignedAmount().Add(l.SignedAmount()).IsZero() // true

SEE ALSO:
  - group.go: The Concil entity
  - reconcilable.go: Group resolution and attachment
  - proposer.go: Amount matching
  - lifecycle.go: Confirm / Decline / Unconfirm
  - balance.go: Reconciled bank balance
*/
package concil

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMBER IDENTITY
// =============================================================================

// Kind distinguishes ledger entries from bank statement lines.
type Kind string

const (
	KindEntry         Kind = "E"
	KindStatementLine Kind = "B"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindEntry || k == KindStatementLine
}

// Opposite returns the other kind.
func (k Kind) Opposite() Kind {
	if k == KindEntry {
		return KindStatementLine
	}
	return KindEntry
}

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindStatementLine:
		return "statement_line"
	default:
		return string(k)
	}
}

// ParseKind accepts both the stored single-letter codes and the long names.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "E", "entry":
		return KindEntry, nil
	case "B", "statement_line", "bat_line":
		return KindStatementLine, nil
	}
	return "", fmt.Errorf("unknown member kind %q", s)
}

// Member identifies one participant of a group.
type Member struct {
	Kind       Kind
	ExternalID int64
}

func (m Member) String() string {
	return fmt.Sprintf("%s:%d", m.Kind, m.ExternalID)
}

// =============================================================================
// RECONCILABLE - Capability shared by entries and statement lines
// =============================================================================

// Reconcilable is implemented by Entry and StatementLine only.
// Callers dispatch on the concrete variant with a type switch.
type Reconcilable interface {
	Member() Member
	SignedAmount() decimal.Decimal
	// Date is the entry effect date or the line value date.
	Date() Date
	isReconcilable()
}

// Entry is a posted ledger entry.
type Entry struct {
	ID         int64
	Account    string
	Label      string
	Ref        string
	Debit      decimal.Decimal
	Credit     decimal.Decimal
	EffectDate Date
	Deleted    bool
}

func (e Entry) Member() Member                { return Member{Kind: KindEntry, ExternalID: e.ID} }
func (e Entry) SignedAmount() decimal.Decimal { return e.Credit.Sub(e.Debit) }
func (e Entry) Date() Date                    { return e.EffectDate }
func (Entry) isReconcilable()                 {}

// StatementLine is a line imported from a bank account transaction file.
type StatementLine struct {
	ID        int64
	BatID     int64
	Label     string
	Ref       string
	Amount    decimal.Decimal
	ValueDate Date
}

func (l StatementLine) Member() Member                { return Member{Kind: KindStatementLine, ExternalID: l.ID} }
func (l StatementLine) SignedAmount() decimal.Decimal { return l.Amount }
func (l StatementLine) Date() Date                    { return l.ValueDate }
func (StatementLine) isReconcilable()                 {}

// isDeleted reports whether the item must be ignored by matching and balance.
func isDeleted(item Reconcilable) bool {
	switch v := item.(type) {
	case Entry:
		return v.Deleted
	case *Entry:
		return v.Deleted
	default:
		return false
	}
}

// MustParseDecimal parses s or returns zero.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// TOTALS - Debit/credit view of a selection
// =============================================================================

// Totals splits the signed amounts of a selection into debit and credit.
type Totals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// Difference is Credit - Debit; zero when the selection balances.
func (t Totals) Difference() decimal.Decimal { return t.Credit.Sub(t.Debit) }

// Balanced reports whether debit equals credit.
func (t Totals) Balanced() bool { return t.Difference().IsZero() }

// TotalsOf sums the non-deleted items of a selection.
func TotalsOf(items []Reconcilable) Totals {
	t := Totals{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, item := range items {
		if isDeleted(item) {
			continue
		}
		amount := item.SignedAmount()
		if amount.IsNegative() {
			t.Debit = t.Debit.Add(amount.Neg())
		} else {
			t.Credit = t.Credit.Add(amount)
		}
	}
	return t
}
