/*
balance.go - Reconciled bank balance

PURPOSE:
  Answers "what should the bank statement say?" for the displayed items:

    bank balance = ledger balance + sum(signed amount of every displayed
                   item that is not in a group)

  Deleted entries are skipped. The ledger balance is supplied by the
  caller with the same sign convention as statement lines (credit
  positive, debit negative).

WHEN TO RECOMPUTE:
  After every Confirm, Decline and Unconfirm, and after every dataset
  change affecting the displayed items, since those change which items
  count as "not yet grouped".

EXAMPLE:
  Ledger balance credit 1000, entry A debit 200 (grouped), entry B
  debit 100 (ungrouped): bank balance = 1000 - 100 = credit 900.

SEE ALSO:
  - events.go: Dataset changes that trigger a recompute
*/
package concil

import (
	"context"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Side tells how a balance is displayed.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// Balance is a signed amount: positive is a credit balance.
type Balance struct {
	Amount decimal.Decimal
}

// Side returns SideDebit for a negative balance, SideCredit otherwise.
func (b Balance) Side() Side {
	if b.Amount.IsNegative() {
		return SideDebit
	}
	return SideCredit
}

// Abs returns the displayed magnitude.
func (b Balance) Abs() decimal.Decimal { return b.Amount.Abs() }

// Format renders the magnitude in currency, e.g. "€900.00".
func (b Balance) Format(currency string) string {
	return FormatAmount(b.Abs(), currency)
}

// FormatAmount renders amount with the currency's symbol and minor units.
// Unknown currencies fall back to two decimals.
func FormatAmount(amount decimal.Decimal, currency string) string {
	fraction := 2
	if c := money.GetCurrency(currency); c != nil {
		fraction = c.Fraction
	}
	minor := amount.Shift(int32(fraction)).Round(0).IntPart()
	return money.New(minor, currency).Display()
}

// BalanceOptions restricts which items count.
type BalanceOptions struct {
	// AsOf, when valid, skips items dated after it.
	AsOf Date
}

// BankBalance computes the projected bank balance for the displayed items.
func (e *Engine) BankBalance(ctx context.Context, accountBalance decimal.Decimal, items []Reconcilable, opts BalanceOptions) (Balance, error) {
	total := accountBalance
	for _, item := range items {
		if isDeleted(item) {
			continue
		}
		if opts.AsOf.IsValid() && item.Date().IsValid() && item.Date().After(opts.AsOf) {
			continue
		}
		g, err := e.GetGroup(ctx, item)
		if err != nil {
			return Balance{}, err
		}
		if g != nil {
			continue
		}
		total = total.Add(item.SignedAmount())
	}
	return Balance{Amount: total}, nil
}
