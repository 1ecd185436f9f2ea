package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/finmesh/finance"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "finance.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var seedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestOpen_MissingPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finance.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertAccount(context.Background(), AccountRow{ID: "a1", OrgID: "org", Name: "Cash", Type: "asset", Balance: 10, Enabled: true}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	accounts, err := s.Accounts(context.Background(), "org", finance.AccountFilter{})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Cash", accounts[0].Name)
}

func TestStore_Accounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedDemo(ctx, "org", seedNow))
	require.NoError(t, s.SeedDemo(ctx, "other", seedNow))

	all, err := s.Accounts(ctx, "org", finance.AccountFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Savings", all[0].Name)
	require.NotNil(t, all[0].Institution)
	assert.Equal(t, "Demo Bank", all[0].Institution.Name)
	assert.NotNil(t, all[0].UpdatedAt)

	liabilities, err := s.Accounts(ctx, "org", finance.AccountFilter{Type: finance.AccountTypeLiability})
	require.NoError(t, err)
	assert.Len(t, liabilities, 2)

	manual := true
	manualOnly, err := s.Accounts(ctx, "org", finance.AccountFilter{Manual: &manual})
	require.NoError(t, err)
	require.Len(t, manualOnly, 1)
	assert.Equal(t, "Mortgage", manualOnly[0].Name)
	assert.Nil(t, manualOnly[0].Institution)

	byQuery, err := s.Accounts(ctx, "org", finance.AccountFilter{Query: "check"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "org-checking", byQuery[0].ID)
}

func TestStore_Transactions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedDemo(ctx, "org", seedNow))

	t.Run("default limit and order", func(t *testing.T) {
		txs, err := s.Transactions(ctx, "org", finance.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, txs, 6)
		assert.Equal(t, "2025-06-15", txs[0].Date)
		assert.Equal(t, "Checking", txs[0].AccountName)
	})

	t.Run("expense only sorted by amount", func(t *testing.T) {
		txs, err := s.Transactions(ctx, "org", finance.TransactionFilter{Type: "expense", SortField: "amount"})
		require.NoError(t, err)
		require.Len(t, txs, 5)
		assert.Equal(t, -1150.0, txs[0].Amount)
	})

	t.Run("category and date range", func(t *testing.T) {
		txs, err := s.Transactions(ctx, "org", finance.TransactionFilter{
			Categories: []string{"groceries"},
			Start:      "2025-06-14",
			End:        "2025-06-15",
		})
		require.NoError(t, err)
		require.Len(t, txs, 2)
		for _, tx := range txs {
			require.NotNil(t, tx.Category)
			assert.Equal(t, "groceries", tx.Category.Slug)
		}
	})

	t.Run("limit", func(t *testing.T) {
		txs, err := s.Transactions(ctx, "org", finance.TransactionFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, txs, 2)
	})
}

func TestStore_NetWorthTrend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedDemo(ctx, "org", seedNow))

	trend, err := s.NetWorthTrend(ctx, "org", finance.Period{
		From: seedNow.AddDate(-1, 0, 0),
		To:   seedNow,
	})
	require.NoError(t, err)
	require.Len(t, trend, 12)
	assert.Equal(t, "2025-06-01", trend[11].Date)
	// 4200 + 15800 - 1250 - 182000
	assert.InDelta(t, -163250.0, trend[11].Amount, 0.001)
	assert.Less(t, trend[0].Amount, trend[11].Amount)
}

func TestStore_AssetsAndLiabilities(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedDemo(ctx, "org", seedNow))

	assets, err := s.Assets(ctx, "org")
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "Savings", assets[0].Name)
	assert.Equal(t, 79.0, assets[0].Percentage)

	liabilities, err := s.Liabilities(ctx, "org")
	require.NoError(t, err)
	require.Len(t, liabilities, 2)
	assert.Equal(t, "Mortgage", liabilities[0].Name)
}

func TestStore_ExpensesByCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedDemo(ctx, "org", seedNow))

	expenses, err := s.ExpensesByCategory(ctx, "org", finance.Period{From: seedNow.AddDate(0, -1, 0), To: seedNow}, 2)
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	assert.Equal(t, "rent", expenses[0].Slug)
	assert.InDelta(t, 1150.0, expenses[0].Amount, 0.001)
	assert.Equal(t, "groceries", expenses[1].Slug)
	assert.Greater(t, expenses[0].Percentage, expenses[1].Percentage)

	empty, err := s.ExpensesByCategory(ctx, "nobody", finance.Period{From: seedNow.AddDate(0, -1, 0), To: seedNow}, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_Institutions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedDemo(ctx, "org", seedNow))

	institutions, err := s.Institutions(ctx, "org", "")
	require.NoError(t, err)
	require.Len(t, institutions, 2)
	assert.Equal(t, "Demo Bank", institutions[0].Name)
	assert.Equal(t, 2, institutions[0].Accounts)
	assert.Nil(t, institutions[0].Logo)
	assert.Equal(t, "Demo Card", institutions[1].Name)
	assert.Equal(t, 1, institutions[1].Accounts)

	filtered, err := s.Institutions(ctx, "org", "card")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Demo Card", filtered[0].Name)

	empty, err := s.Institutions(ctx, "nobody", "")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_Categories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SeedDemo(ctx, "org", seedNow))

	categories, err := s.Categories(ctx, "org", "", 0)
	require.NoError(t, err)
	require.Len(t, categories, 5)
	assert.Equal(t, finance.CategoryUsage{Slug: "groceries", Name: "Groceries", Transactions: 2}, categories[0])
	assert.Equal(t, "Housing", categories[1].Name)
	assert.Equal(t, "Transport", categories[4].Name)

	limited, err := s.Categories(ctx, "org", "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	filtered, err := s.Categories(ctx, "org", "rent", 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Housing", filtered[0].Name)
}
