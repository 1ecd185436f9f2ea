// Package sqlite implements finance.Store on top of a local SQLite database
// using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/finmesh/finance"
	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// Store is a SQLite-backed finance.Store.
//
// Notes:
//   - All rows are scoped by org_id.
//   - A single connection is used so ":memory:" databases stay coherent.
type Store struct {
	db *sql.DB
}

var _ finance.Store = (*Store)(nil)

// Open opens (and migrates) the database at path. Use ":memory:" for an
// ephemeral database.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if p != ":memory:" {
		p = filepath.Clean(p)
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Accounts returns the organization's accounts matching f, largest balance first.
func (s *Store) Accounts(ctx context.Context, orgID string, f finance.AccountFilter) ([]finance.Account, error) {
	var (
		where = []string{"org_id = ?"}
		args  = []any{orgID}
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(name LIKE ? OR COALESCE(description, '') LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Subtype != "" {
		where = append(where, "subtype = ?")
		args = append(args, f.Subtype)
	}
	if f.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*f.Enabled))
	}
	if f.Manual != nil {
		where = append(where, "manual = ?")
		args = append(args, boolInt(*f.Manual))
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, description, institution_name, institution_logo, type, subtype,
       balance, currency, enabled, manual, updated_at_unix_ms
FROM accounts
WHERE `+strings.Join(where, " AND ")+`
ORDER BY balance DESC, name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	out := []finance.Account{}
	for rows.Next() {
		var (
			a                             finance.Account
			desc, instName, instLogo, sub sql.NullString
			enabled, manual               int
			updatedMs                     sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Name, &desc, &instName, &instLogo, &a.Type, &sub,
			&a.Balance, &a.Currency, &enabled, &manual, &updatedMs); err != nil {
			return nil, err
		}
		a.Description = nullString(desc)
		a.Subtype = nullString(sub)
		if instName.Valid {
			a.Institution = &finance.Institution{Name: instName.String, Logo: nullString(instLogo)}
		}
		a.Enabled = enabled != 0
		a.Manual = manual != 0
		if updatedMs.Valid {
			t := time.UnixMilli(updatedMs.Int64).UTC()
			a.UpdatedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var transactionSortColumns = map[string]string{
	"date":   "t.date",
	"amount": "t.amount",
	"name":   "t.name",
}

// Transactions returns transactions matching f.
func (s *Store) Transactions(ctx context.Context, orgID string, f finance.TransactionFilter) ([]finance.Transaction, error) {
	var (
		where = []string{"t.org_id = ?"}
		args  = []any{orgID}
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(COALESCE(t.name, '') LIKE ? OR COALESCE(t.description, '') LIKE ? OR COALESCE(t.counterparty, '') LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}
	if f.Start != "" {
		where = append(where, "t.date >= ?")
		args = append(args, f.Start)
	}
	if f.End != "" {
		where = append(where, "t.date <= ?")
		args = append(args, f.End)
	}
	if len(f.Categories) > 0 {
		where = append(where, "t.category_slug IN ("+placeholders(len(f.Categories))+")")
		for _, c := range f.Categories {
			args = append(args, c)
		}
	}
	if len(f.Accounts) > 0 {
		where = append(where, "t.account_id IN ("+placeholders(len(f.Accounts))+")")
		for _, a := range f.Accounts {
			args = append(args, a)
		}
	}
	switch f.Type {
	case "income":
		where = append(where, "t.amount > 0")
	case "expense":
		where = append(where, "t.amount < 0")
	}
	if f.MinAmount != nil {
		where = append(where, "t.amount >= ?")
		args = append(args, *f.MinAmount)
	}
	if f.MaxAmount != nil {
		where = append(where, "t.amount <= ?")
		args = append(args, *f.MaxAmount)
	}

	order := "t.date DESC, t.id ASC"
	if col, ok := transactionSortColumns[f.SortField]; ok {
		dir := "ASC"
		if f.SortDesc {
			dir = "DESC"
		}
		order = col + " " + dir + ", t.id ASC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.date, t.amount, t.currency, t.status, t.name, t.description, t.counterparty,
       t.internal, t.recurring, t.category_slug, t.category_name, t.category_excluded,
       t.account_id, a.name
FROM transactions t
JOIN accounts a ON a.id = t.account_id
WHERE `+strings.Join(where, " AND ")+`
ORDER BY `+order+`
LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := []finance.Transaction{}
	for rows.Next() {
		var (
			t                                   finance.Transaction
			name, desc, counterparty, recurring sql.NullString
			cSlug, cName                        sql.NullString
			internal, cExcluded                 int
		)
		if err := rows.Scan(&t.ID, &t.Date, &t.Amount, &t.Currency, &t.Status, &name, &desc, &counterparty,
			&internal, &recurring, &cSlug, &cName, &cExcluded, &t.AccountID, &t.AccountName); err != nil {
			return nil, err
		}
		t.Name = nullString(name)
		t.Description = nullString(desc)
		t.CounterpartyName = nullString(counterparty)
		t.Recurring = nullString(recurring)
		t.Internal = internal != 0
		if cSlug.Valid {
			t.Category = &finance.Category{Slug: cSlug.String, Name: cName.String, Excluded: cExcluded != 0}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// NetWorthTrend sums daily balance snapshots, counting liabilities negatively.
func (s *Store) NetWorthTrend(ctx context.Context, orgID string, p finance.Period) ([]finance.TrendPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.date,
       SUM(CASE WHEN a.type = 'liability' THEN -ABS(s.balance) ELSE s.balance END)
FROM balance_snapshots s
JOIN accounts a ON a.id = s.account_id
WHERE s.org_id = ? AND s.date >= ? AND s.date <= ?
GROUP BY s.date
ORDER BY s.date ASC`, orgID, p.From.Format(dateLayout), p.To.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("query net worth trend: %w", err)
	}
	defer rows.Close()

	out := []finance.TrendPoint{}
	for rows.Next() {
		var pt finance.TrendPoint
		if err := rows.Scan(&pt.Date, &pt.Amount); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

// Assets returns enabled asset accounts, largest first.
func (s *Store) Assets(ctx context.Context, orgID string) ([]finance.AccountShare, error) {
	return s.shares(ctx, `
SELECT name, balance FROM accounts
WHERE org_id = ? AND type = 'asset' AND enabled = 1
ORDER BY balance DESC, name ASC`, orgID)
}

// Liabilities returns enabled liability accounts, largest exposure first.
func (s *Store) Liabilities(ctx context.Context, orgID string) ([]finance.AccountShare, error) {
	return s.shares(ctx, `
SELECT name, balance FROM accounts
WHERE org_id = ? AND type = 'liability' AND enabled = 1
ORDER BY ABS(balance) DESC, name ASC`, orgID)
}

func (s *Store) shares(ctx context.Context, query, orgID string) ([]finance.AccountShare, error) {
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("query account shares: %w", err)
	}
	defer rows.Close()

	var (
		names    []string
		balances []float64
	)
	for rows.Next() {
		var (
			n string
			b float64
		)
		if err := rows.Scan(&n, &b); err != nil {
			return nil, err
		}
		names = append(names, n)
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return finance.Shares(names, balances), nil
}

// ExpensesByCategory returns the top categories by spending in p.
func (s *Store) ExpensesByCategory(ctx context.Context, orgID string, p finance.Period, limit int) ([]finance.CategoryExpense, error) {
	if limit <= 0 {
		limit = 10
	}
	from, to := p.From.Format(dateLayout), p.To.Format(dateLayout)

	const filter = `org_id = ? AND amount < 0 AND internal = 0 AND category_excluded = 0 AND date >= ? AND date <= ?`

	var total float64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(-amount), 0) FROM transactions WHERE `+filter,
		orgID, from, to).Scan(&total); err != nil {
		return nil, fmt.Errorf("query expenses total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT COALESCE(category_slug, 'uncategorized'), COALESCE(category_name, 'Uncategorized'), SUM(-amount) AS spent
FROM transactions
WHERE `+filter+`
GROUP BY 1, 2
ORDER BY spent DESC
LIMIT ?`, orgID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query expenses by category: %w", err)
	}
	defer rows.Close()

	out := []finance.CategoryExpense{}
	for rows.Next() {
		var c finance.CategoryExpense
		if err := rows.Scan(&c.Slug, &c.Name, &c.Amount); err != nil {
			return nil, err
		}
		if total > 0 {
			c.Percentage = float64(int64(c.Amount/total*10000+0.5)) / 100
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Institutions returns the institutions behind the organization's accounts,
// by name. Accounts without an institution are skipped.
func (s *Store) Institutions(ctx context.Context, orgID, query string) ([]finance.InstitutionSummary, error) {
	var (
		where = []string{"org_id = ?", "institution_name IS NOT NULL"}
		args  = []any{orgID}
	)
	if q := strings.TrimSpace(query); q != "" {
		where = append(where, "institution_name LIKE ?")
		args = append(args, "%"+q+"%")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT institution_name, MAX(institution_logo), COUNT(*)
FROM accounts
WHERE `+strings.Join(where, " AND ")+`
GROUP BY institution_name
ORDER BY institution_name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query institutions: %w", err)
	}
	defer rows.Close()

	out := []finance.InstitutionSummary{}
	for rows.Next() {
		var (
			i    finance.InstitutionSummary
			logo sql.NullString
		)
		if err := rows.Scan(&i.Name, &logo, &i.Accounts); err != nil {
			return nil, err
		}
		i.Logo = nullString(logo)
		out = append(out, i)
	}
	return out, rows.Err()
}

// Categories returns the categories used by the organization's transactions,
// most used first.
func (s *Store) Categories(ctx context.Context, orgID, query string, limit int) ([]finance.CategoryUsage, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		where = []string{"org_id = ?", "category_slug IS NOT NULL"}
		args  = []any{orgID}
	)
	if q := strings.TrimSpace(query); q != "" {
		where = append(where, "(category_slug LIKE ? OR COALESCE(category_name, '') LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
SELECT category_slug, COALESCE(MAX(category_name), category_slug), MAX(category_excluded), COUNT(*) AS used
FROM transactions
WHERE `+strings.Join(where, " AND ")+`
GROUP BY category_slug
ORDER BY used DESC, 2 ASC
LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	out := []finance.CategoryUsage{}
	for rows.Next() {
		var (
			c        finance.CategoryUsage
			excluded int
		)
		if err := rows.Scan(&c.Slug, &c.Name, &excluded, &c.Transactions); err != nil {
			return nil, err
		}
		c.Excluded = excluded != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
