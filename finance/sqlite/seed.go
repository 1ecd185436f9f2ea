package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/finmesh/finance"
)

// AccountRow is the write-side shape of an account.
type AccountRow struct {
	ID              string
	OrgID           string
	Name            string
	Description     string
	InstitutionName string
	InstitutionLogo string
	Type            string
	Subtype         string
	Balance         float64
	Currency        string
	Enabled         bool
	Manual          bool
}

// TransactionRow is the write-side shape of a transaction.
type TransactionRow struct {
	ID               string
	OrgID            string
	AccountID        string
	Date             string
	Amount           float64
	Currency         string
	Status           string
	Name             string
	Description      string
	Counterparty     string
	Internal         bool
	Recurring        string
	CategorySlug     string
	CategoryName     string
	CategoryExcluded bool
}

// UpsertAccount inserts or replaces an account.
func (s *Store) UpsertAccount(ctx context.Context, a AccountRow) error {
	if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.OrgID) == "" {
		return errors.New("missing account id or org id")
	}
	if a.Currency == "" {
		a.Currency = "EUR"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO accounts (
  id, org_id, name, description, institution_name, institution_logo,
  type, subtype, balance, currency, enabled, manual, updated_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  description = excluded.description,
  institution_name = excluded.institution_name,
  institution_logo = excluded.institution_logo,
  type = excluded.type,
  subtype = excluded.subtype,
  balance = excluded.balance,
  currency = excluded.currency,
  enabled = excluded.enabled,
  manual = excluded.manual,
  updated_at_unix_ms = excluded.updated_at_unix_ms`,
		a.ID, a.OrgID, a.Name, nullable(a.Description), nullable(a.InstitutionName), nullable(a.InstitutionLogo),
		a.Type, nullable(a.Subtype), a.Balance, a.Currency, boolInt(a.Enabled), boolInt(a.Manual), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", a.ID, err)
	}
	return nil
}

// InsertTransaction inserts a transaction.
func (s *Store) InsertTransaction(ctx context.Context, t TransactionRow) error {
	if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.OrgID) == "" {
		return errors.New("missing transaction id or org id")
	}
	if t.Currency == "" {
		t.Currency = "EUR"
	}
	if t.Status == "" {
		t.Status = "posted"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO transactions (
  id, org_id, account_id, date, amount, currency, status, name, description,
  counterparty, internal, recurring, category_slug, category_name, category_excluded
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrgID, t.AccountID, t.Date, t.Amount, t.Currency, t.Status,
		nullable(t.Name), nullable(t.Description), nullable(t.Counterparty), boolInt(t.Internal),
		nullable(t.Recurring), nullable(t.CategorySlug), nullable(t.CategoryName), boolInt(t.CategoryExcluded))
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

// RecordBalance stores the balance of an account on a given day.
func (s *Store) RecordBalance(ctx context.Context, orgID, accountID, date string, balance float64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO balance_snapshots (org_id, account_id, date, balance) VALUES (?, ?, ?, ?)
ON CONFLICT(account_id, date) DO UPDATE SET balance = excluded.balance`,
		orgID, accountID, date, balance)
	if err != nil {
		return fmt.Errorf("record balance %s@%s: %w", accountID, date, err)
	}
	return nil
}

// SeedDemo fills orgID with a small, deterministic data set: two asset
// accounts, a credit card, a mortgage, monthly snapshots for the twelve
// months before now and a month of transactions.
func (s *Store) SeedDemo(ctx context.Context, orgID string, now time.Time) error {
	accounts := []AccountRow{
		{ID: orgID + "-checking", OrgID: orgID, Name: "Checking", InstitutionName: "Demo Bank", Type: finance.AccountTypeAsset, Subtype: "current", Balance: 4200, Enabled: true},
		{ID: orgID + "-savings", OrgID: orgID, Name: "Savings", InstitutionName: "Demo Bank", Type: finance.AccountTypeAsset, Subtype: "savings", Balance: 15800, Enabled: true},
		{ID: orgID + "-card", OrgID: orgID, Name: "Credit Card", InstitutionName: "Demo Card", Type: finance.AccountTypeLiability, Subtype: "card", Balance: -1250, Enabled: true},
		{ID: orgID + "-mortgage", OrgID: orgID, Name: "Mortgage", Type: finance.AccountTypeLiability, Subtype: "mortgage", Balance: -182000, Enabled: true, Manual: true},
	}
	for _, a := range accounts {
		if err := s.UpsertAccount(ctx, a); err != nil {
			return err
		}
	}

	for m := 11; m >= 0; m-- {
		day := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -m, 0).Format(dateLayout)
		for _, a := range accounts {
			balance := a.Balance
			switch a.Subtype {
			case "savings":
				balance -= float64(m) * 300
			case "mortgage":
				balance -= float64(m) * 900
			}
			if err := s.RecordBalance(ctx, orgID, a.ID, day, balance); err != nil {
				return err
			}
		}
	}

	type spend struct {
		slug, name, counterparty string
		amount                   float64
	}
	spends := []spend{
		{"groceries", "Groceries", "Market", -82.4},
		{"groceries", "Groceries", "Market", -64.1},
		{"rent", "Housing", "Landlord", -1150},
		{"transport", "Transport", "Metro", -49},
		{"restaurants", "Restaurants", "Bistro", -37.5},
		{"salary", "Salary", "Employer", 3400},
	}
	for i, sp := range spends {
		t := TransactionRow{
			ID:           fmt.Sprintf("%s-tx-%02d", orgID, i+1),
			OrgID:        orgID,
			AccountID:    orgID + "-checking",
			Date:         now.AddDate(0, 0, -i).Format(dateLayout),
			Amount:       sp.amount,
			Name:         sp.counterparty,
			Counterparty: sp.counterparty,
			CategorySlug: sp.slug,
			CategoryName: sp.name,
		}
		if err := s.InsertTransaction(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
