// Package finance defines the typed rows and the read-only query surface the
// assistant tools use to reach a user's financial data. Concrete backends
// (see finance/sqlite) implement Store; tools never see SQL.
package finance

import (
	"context"
	"errors"
	"time"
)

// Account types.
const (
	AccountTypeAsset     = "asset"
	AccountTypeLiability = "liability"
)

// Account subtypes accepted by filters.
var AccountSubtypes = []string{"current", "savings", "joint", "card", "loan", "mortgage", "investment", "cash"}

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("finance: not found")

// Institution is the financial institution an account belongs to.
type Institution struct {
	Name string  `json:"name"`
	Logo *string `json:"logo"`
}

// InstitutionSummary is an institution and how many of the organization's
// accounts it holds.
type InstitutionSummary struct {
	Name     string  `json:"name"`
	Logo     *string `json:"logo"`
	Accounts int     `json:"accounts"`
}

// Account is a bank, card, loan or manual account.
type Account struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description *string      `json:"description"`
	Institution *Institution `json:"institution"`
	Type        string       `json:"type"`
	Subtype     *string      `json:"subtype"`
	Balance     float64      `json:"balance"`
	Currency    string       `json:"currency"`
	Enabled     bool         `json:"enabled"`
	Manual      bool         `json:"manual"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty"`
}

// AccountFilter narrows Accounts. Nil pointers mean "any".
type AccountFilter struct {
	Query   string
	Type    string
	Subtype string
	Enabled *bool
	Manual  *bool
}

// Category is a transaction category.
type Category struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Excluded bool   `json:"excluded"`
}

// CategoryUsage is a category with the number of transactions filed under it.
type CategoryUsage struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Excluded     bool   `json:"excluded"`
	Transactions int    `json:"transactions"`
}

// Transaction is a single posted or pending movement on an account.
type Transaction struct {
	ID               string    `json:"id"`
	Date             string    `json:"date"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	Name             *string   `json:"name"`
	Description      *string   `json:"description"`
	CounterpartyName *string   `json:"counterpartyName"`
	Internal         bool      `json:"internal"`
	Recurring        *string   `json:"recurring"`
	Category         *Category `json:"category"`
	AccountID        string    `json:"accountId"`
	AccountName      string    `json:"accountName"`
}

// TransactionFilter narrows Transactions.
type TransactionFilter struct {
	Query      string
	Start      string // YYYY-MM-DD inclusive
	End        string // YYYY-MM-DD inclusive
	Categories []string
	Accounts   []string
	Type       string // income | expense
	MinAmount  *float64
	MaxAmount  *float64
	SortField  string // date | amount | name
	SortDesc   bool
	Limit      int
}

// TrendPoint is the net worth of an organization on one day.
type TrendPoint struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

// AccountShare is an account and its share of the total of its type.
type AccountShare struct {
	Name       string  `json:"name"`
	Balance    float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// CategoryExpense is the spending in one category over a period.
type CategoryExpense struct {
	Slug       string  `json:"slug"`
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// Period is an inclusive date range.
type Period struct {
	From time.Time
	To   time.Time
}

// Store is the read-only data access surface exposed to tools through the
// execution context. Every method is scoped to one organization.
type Store interface {
	Accounts(ctx context.Context, orgID string, f AccountFilter) ([]Account, error)
	Transactions(ctx context.Context, orgID string, f TransactionFilter) ([]Transaction, error)
	NetWorthTrend(ctx context.Context, orgID string, p Period) ([]TrendPoint, error)
	Assets(ctx context.Context, orgID string) ([]AccountShare, error)
	Liabilities(ctx context.Context, orgID string) ([]AccountShare, error)
	ExpensesByCategory(ctx context.Context, orgID string, p Period, limit int) ([]CategoryExpense, error)
	Institutions(ctx context.Context, orgID, query string) ([]InstitutionSummary, error)
	Categories(ctx context.Context, orgID, query string, limit int) ([]CategoryUsage, error)
}

// Shares converts raw balances into AccountShare values sorted by the
// caller, with percentages of the absolute total rounded to two decimals.
func Shares(names []string, balances []float64) []AccountShare {
	var total float64
	for _, b := range balances {
		total += abs(b)
	}
	out := make([]AccountShare, len(names))
	for i := range names {
		pct := 0.0
		if total > 0 {
			pct = round2(abs(balances[i]) / total * 100)
		}
		out[i] = AccountShare{Name: names[i], Balance: balances[i], Percentage: pct}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
