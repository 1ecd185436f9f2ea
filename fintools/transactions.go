package fintools

import (
	"slices"

	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
	"github.com/hupe1980/finmesh/internal/util"
	"github.com/hupe1980/finmesh/tool"
)

const transactionsDescription = `Retrieve financial transactions for the authenticated user.

Use this tool when you need to:
- Search transactions by name, description or counterparty.
- Filter by date range, account, category or amount.
- List only income or only expenses.

Never use this tool to get accounts, balances or categories.

Returns the matching transactions, their count and the filters applied.`

var (
	transactionSortFields = []string{"date", "amount", "name"}
	sortDirections        = []string{"asc", "desc"}
)

var transactionsInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"q": map[string]any{
			"type":        []any{"string", "null"},
			"description": "Search query to filter transactions by name or description.",
		},
		"start": map[string]any{
			"type":        []any{"string", "null"},
			"format":      "date",
			"description": "Start date (inclusive). Format: YYYY-MM-DD.",
		},
		"end": map[string]any{
			"type":        []any{"string", "null"},
			"format":      "date",
			"description": "End date (inclusive). Format: YYYY-MM-DD.",
		},
		"categories": map[string]any{
			"type":        []any{"array", "null"},
			"items":       map[string]any{"type": "string"},
			"description": "Filter by one or more category slugs.",
		},
		"accounts": map[string]any{
			"type":        []any{"array", "null"},
			"items":       map[string]any{"type": "string"},
			"description": "Filter by one or more account IDs.",
		},
		"type": map[string]any{
			"type":        []any{"string", "null"},
			"enum":        []any{"income", "expense"},
			"description": "'income' for positive transactions, 'expense' for negative ones.",
		},
		"amount_range": map[string]any{
			"type":        []any{"array", "null"},
			"items":       map[string]any{"type": "number"},
			"minItems":    2,
			"maxItems":    2,
			"description": "Amount range as [min, max] in the account's currency.",
		},
		"pageSize": map[string]any{
			"type":        "integer",
			"minimum":     1,
			"maximum":     10000,
			"default":     10,
			"description": "Maximum number of transactions to return. Defaults to 10.",
		},
		"sort": map[string]any{
			"type":        []any{"array", "null"},
			"items":       map[string]any{"type": "string"},
			"minItems":    2,
			"maxItems":    2,
			"description": "Sort order as [field, direction], e.g. ['date', 'desc']. Fields: date, amount, name.",
		},
	},
}

var transactionsOutputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"count":          map[string]any{"type": "integer"},
		"transactions":   util.CreateSchema([]finance.Transaction{}),
		"appliedFilters": map[string]any{"type": "object"},
	},
	"required": []any{"count", "transactions", "appliedFilters"},
}

type transactionsInput struct {
	Q           *string   `json:"q"`
	Start       *string   `json:"start"`
	End         *string   `json:"end"`
	Categories  []string  `json:"categories"`
	Accounts    []string  `json:"accounts"`
	Type        *string   `json:"type"`
	AmountRange []float64 `json:"amount_range"`
	PageSize    int       `json:"pageSize"`
	Sort        []string  `json:"sort"`
}

type transactionsOutput struct {
	Count          int                   `json:"count"`
	Transactions   []finance.Transaction `json:"transactions"`
	AppliedFilters map[string]any        `json:"appliedFilters"`
}

func newTransactionsTool() *tool.FunctionTool {
	return tool.NewFunctionTool(NameGetTransactions, transactionsDescription, transactionsInputSchema, getTransactions,
		func(o *tool.FunctionToolOptions) { o.OutputSchema = transactionsOutputSchema })
}

func getTransactions(tc *core.ToolContext, args map[string]any) (any, error) {
	ec, err := tc.Exec()
	if err != nil {
		return nil, err
	}
	in, err := util.Decode[transactionsInput](args)
	if err != nil {
		return nil, err
	}
	filter, err := in.filter()
	if err != nil {
		return nil, err
	}

	txs, err := ec.DB.Transactions(tc.Context(), ec.OrganizationID, filter)
	if err != nil {
		return nil, &tool.ToolError{
			Tool:    NameGetTransactions,
			Message: "failed to retrieve transactions, please try again later",
			Code:    tool.CodeExecution,
			Err:     err,
		}
	}
	if txs == nil {
		txs = []finance.Transaction{}
	}
	return transactionsOutput{
		Count:          len(txs),
		Transactions:   txs,
		AppliedFilters: args,
	}, nil
}

func (in transactionsInput) filter() (finance.TransactionFilter, error) {
	f := finance.TransactionFilter{
		Query:      deref(in.Q),
		Start:      deref(in.Start),
		End:        deref(in.End),
		Categories: in.Categories,
		Accounts:   in.Accounts,
		Type:       deref(in.Type),
		Limit:      in.PageSize,
	}
	if f.Start != "" && f.End != "" && f.Start > f.End {
		return f, invalidArg(NameGetTransactions, "start must not be after end")
	}
	if len(in.AmountRange) == 2 {
		lo, hi := in.AmountRange[0], in.AmountRange[1]
		if lo > hi {
			return f, invalidArg(NameGetTransactions, "amount_range must be [min, max]")
		}
		f.MinAmount, f.MaxAmount = &lo, &hi
	}
	if len(in.Sort) == 2 {
		if !slices.Contains(transactionSortFields, in.Sort[0]) || !slices.Contains(sortDirections, in.Sort[1]) {
			return f, invalidArg(NameGetTransactions, "sort must be [date|amount|name, asc|desc]")
		}
		f.SortField = in.Sort[0]
		f.SortDesc = in.Sort[1] == "desc"
	}
	return f, nil
}

func invalidArg(toolName, msg string) *tool.ToolError {
	return tool.NewToolError(toolName, msg, tool.CodeValidation)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
