/*
Package scenario loads demo reconciliation datasets from YAML.

PURPOSE:
  A scenario describes an account balance, the ledger entries and bank
  statement lines to display, and the groups that already exist. The API
  loads one into a fresh session to demonstrate matching, confirmation
  and the reconciled balance.

FORMAT:
  name: round-trip
  account: "512"
  currency: EUR
  account_balance: "0"
  entries:
    - {id: 1, label: Refund, credit: "100.00", date: "2025-03-10"}
  lines:
    - {id: 10, label: REFUND, amount: "-100.00", value_date: "2025-03-12"}
  groups:
    - {date: "2025-03-12", members: ["E:1", "B:10"]}
  display: ["E:1", "B:10"]   # optional, defaults to entries then lines

  Amounts are decimal strings. Members are "KIND:ID" with KIND E or B.

SEE ALSO:
  - api/scenarios.go: HTTP endpoints
  - builtin/*.yaml: Scenarios shipped with the server
*/
package scenario

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/concil-engine/concil"
	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// =============================================================================
// FILE FORMAT
// =============================================================================

type file struct {
	Name           string      `yaml:"name"`
	Description    string      `yaml:"description"`
	Account        string      `yaml:"account"`
	Currency       string      `yaml:"currency"`
	AccountBalance string      `yaml:"account_balance"`
	Entries        []entryYAML `yaml:"entries"`
	Lines          []lineYAML  `yaml:"lines"`
	Groups         []groupYAML `yaml:"groups"`
	Display        []string    `yaml:"display"`
}

type entryYAML struct {
	ID      int64  `yaml:"id"`
	Label   string `yaml:"label"`
	Ref     string `yaml:"ref"`
	Debit   string `yaml:"debit"`
	Credit  string `yaml:"credit"`
	Date    string `yaml:"date"`
	Deleted bool   `yaml:"deleted"`
}

type lineYAML struct {
	ID        int64  `yaml:"id"`
	BatID     int64  `yaml:"bat_id"`
	Label     string `yaml:"label"`
	Ref       string `yaml:"ref"`
	Amount    string `yaml:"amount"`
	ValueDate string `yaml:"value_date"`
}

type groupYAML struct {
	Date    string   `yaml:"date"`
	Members []string `yaml:"members"`
}

// =============================================================================
// SCENARIO
// =============================================================================

// Scenario is a parsed dataset.
type Scenario struct {
	Name           string
	Description    string
	Account        string
	Currency       string
	AccountBalance decimal.Decimal
	// Items in display order.
	Items []concil.Reconcilable
	// Groups already confirmed before the session starts.
	Groups []GroupSeed

	catalog map[concil.Member]concil.Reconcilable
}

// GroupSeed is a pre-existing group.
type GroupSeed struct {
	Date    concil.Date
	Members []concil.Member
}

// Parse decodes a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if f.Name == "" {
		return nil, fmt.Errorf("scenario has no name")
	}

	s := &Scenario{
		Name:        f.Name,
		Description: f.Description,
		Account:     f.Account,
		Currency:    strings.ToUpper(f.Currency),
		catalog:     make(map[concil.Member]concil.Reconcilable),
	}
	var err error
	if s.AccountBalance, err = parseAmount(f.AccountBalance); err != nil {
		return nil, fmt.Errorf("account_balance: %w", err)
	}

	items := s.catalog
	var order []concil.Member
	for _, e := range f.Entries {
		entry, err := e.toEntry(f.Account)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.ID, err)
		}
		if _, dup := items[entry.Member()]; dup {
			return nil, fmt.Errorf("entry %d listed twice", e.ID)
		}
		items[entry.Member()] = entry
		order = append(order, entry.Member())
	}
	for _, l := range f.Lines {
		line, err := l.toLine()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", l.ID, err)
		}
		if _, dup := items[line.Member()]; dup {
			return nil, fmt.Errorf("line %d listed twice", l.ID)
		}
		items[line.Member()] = line
		order = append(order, line.Member())
	}

	if len(f.Display) > 0 {
		order = order[:0]
		for _, ref := range f.Display {
			m, err := ParseMember(ref)
			if err != nil {
				return nil, fmt.Errorf("display: %w", err)
			}
			if _, ok := items[m]; !ok {
				return nil, fmt.Errorf("display: unknown item %s", ref)
			}
			order = append(order, m)
		}
	}
	for _, m := range order {
		s.Items = append(s.Items, items[m])
	}

	grouped := make(map[concil.Member]bool)
	for i, g := range f.Groups {
		seed, err := g.toSeed(items, grouped)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", i+1, err)
		}
		s.Groups = append(s.Groups, seed)
	}
	return s, nil
}

// Seed creates the scenario's pre-existing groups through e. A group whose
// members are already grouped together (scenario loaded before) is skipped.
func (s *Scenario) Seed(ctx context.Context, e *concil.Engine) error {
	for i, seed := range s.Groups {
		existing, err := s.existingGroup(ctx, e, seed)
		if err != nil {
			return fmt.Errorf("group %d: %w", i+1, err)
		}
		if existing {
			continue
		}

		first := s.catalog[seed.Members[0]]
		g, err := e.NewGroup(ctx, first, seed.Date)
		if err != nil {
			return fmt.Errorf("group %d: %w", i+1, err)
		}
		for _, m := range seed.Members[1:] {
			if err := e.AttachToGroup(ctx, s.catalog[m], g); err != nil {
				return fmt.Errorf("group %d: %w", i+1, err)
			}
		}
	}
	return nil
}

func (s *Scenario) existingGroup(ctx context.Context, e *concil.Engine, seed GroupSeed) (bool, error) {
	var found *concil.Group
	for i, m := range seed.Members {
		g, err := e.GetGroup(ctx, s.catalog[m])
		if err != nil {
			return false, err
		}
		switch {
		case i == 0:
			found = g
		case g == nil && found == nil:
		case g == nil || found == nil || g.ID != found.ID:
			return false, fmt.Errorf("%w: %s grouped differently", concil.ErrAlreadyGrouped, m)
		}
	}
	return found != nil, nil
}

// LoadFile reads a scenario from disk.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Builtin returns the scenarios shipped with the server, by name.
func Builtin() (map[string]*Scenario, error) {
	paths, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	result := make(map[string]*Scenario, len(paths))
	for _, entry := range paths {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, err
		}
		s, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		result[s.Name] = s
	}
	return result, nil
}

// LoadDir reads every *.yaml file of dir, by scenario name.
func LoadDir(dir string) (map[string]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	result := make(map[string]*Scenario, len(paths))
	for _, path := range paths {
		s, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		result[s.Name] = s
	}
	return result, nil
}

// ParseMember parses "E:12" or "B:7".
func ParseMember(ref string) (concil.Member, error) {
	kind, id, ok := strings.Cut(ref, ":")
	if !ok {
		return concil.Member{}, fmt.Errorf("member %q: want KIND:ID", ref)
	}
	k, err := concil.ParseKind(kind)
	if err != nil {
		return concil.Member{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return concil.Member{}, fmt.Errorf("member %q: invalid id", ref)
	}
	return concil.Member{Kind: k, ExternalID: n}, nil
}

func (e entryYAML) toEntry(account string) (concil.Entry, error) {
	debit, err := parseAmount(e.Debit)
	if err != nil {
		return concil.Entry{}, fmt.Errorf("debit: %w", err)
	}
	credit, err := parseAmount(e.Credit)
	if err != nil {
		return concil.Entry{}, fmt.Errorf("credit: %w", err)
	}
	date, err := concil.ParseDate(e.Date)
	if err != nil {
		return concil.Entry{}, err
	}
	return concil.Entry{
		ID:         e.ID,
		Account:    account,
		Label:      e.Label,
		Ref:        e.Ref,
		Debit:      debit,
		Credit:     credit,
		EffectDate: date,
		Deleted:    e.Deleted,
	}, nil
}

func (l lineYAML) toLine() (concil.StatementLine, error) {
	amount, err := parseAmount(l.Amount)
	if err != nil {
		return concil.StatementLine{}, fmt.Errorf("amount: %w", err)
	}
	date, err := concil.ParseDate(l.ValueDate)
	if err != nil {
		return concil.StatementLine{}, err
	}
	return concil.StatementLine{
		ID:        l.ID,
		BatID:     l.BatID,
		Label:     l.Label,
		Ref:       l.Ref,
		Amount:    amount,
		ValueDate: date,
	}, nil
}

// toSeed validates one group. grouped collects the members of the groups
// already parsed: a member may appear in one group only.
func (g groupYAML) toSeed(items map[concil.Member]concil.Reconcilable, grouped map[concil.Member]bool) (GroupSeed, error) {
	date, err := concil.ParseDate(g.Date)
	if err != nil {
		return GroupSeed{}, err
	}
	if !date.IsValid() {
		return GroupSeed{}, concil.ErrInvalidDate
	}
	if len(g.Members) == 0 {
		return GroupSeed{}, concil.ErrEmptyGroup
	}
	seed := GroupSeed{Date: date}
	for _, ref := range g.Members {
		m, err := ParseMember(ref)
		if err != nil {
			return GroupSeed{}, err
		}
		if _, ok := items[m]; !ok {
			return GroupSeed{}, fmt.Errorf("unknown member %s", ref)
		}
		if grouped[m] {
			return GroupSeed{}, fmt.Errorf("%w: %s listed twice", concil.ErrDuplicateMembership, ref)
		}
		grouped[m] = true
		seed.Members = append(seed.Members, m)
	}
	return seed, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
