package fintools

import (
	"github.com/hupe1980/finmesh/cache"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/model"
	"github.com/hupe1980/finmesh/tool"
)

// Tool names as the model sees them.
const (
	NameGetAccounts          = "getAccounts"
	NameGetTransactions      = "getTransactions"
	NameGetNetWorthAnalysis  = "getNetWorthAnalysis"
	NameGetExpensesBreakdown = "getExpensesBreakdown"

	NameGetInstitutions           = "getInstitutions"
	NameGetTransactionsCategories = "getTransactionsCategories"
)

// Options configures the finance tools.
type Options struct {
	// Model writes intro messages, summaries, analyses and follow-up
	// questions. Without a model the tools fall back to templated text.
	Model model.Model
	// Cache memoizes the simple tools. Nil disables caching.
	Cache  *cache.Cache
	Logger logging.Logger
}

// Tools returns every finance tool.
func Tools(optFns ...func(o *Options)) []tool.Tool {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return []tool.Tool{
		cached(newAccountsTool(), opts.Cache),
		cached(newTransactionsTool(), opts.Cache),
		cached(newInstitutionsTool(), opts.Cache),
		cached(newCategoriesTool(), opts.Cache),
		newNetWorthTool(opts),
		newExpensesTool(opts),
	}
}

// NewRegistry returns a registry holding every finance tool.
func NewRegistry(optFns ...func(o *Options)) *tool.Registry {
	return tool.NewRegistry(Tools(optFns...)...)
}

func cached(t tool.Tool, c *cache.Cache) tool.Tool {
	if c == nil {
		return t
	}
	return tool.Cached(t, c)
}

// toolInfo is what the follow-up generator knows about a tool.
type toolInfo struct {
	title       string
	description string
	related     []string
}

var toolCatalog = map[string]toolInfo{
	NameGetAccounts: {
		title:       "Bank accounts overview",
		description: "List and search bank accounts with balances",
		related:     []string{NameGetTransactions, NameGetNetWorthAnalysis},
	},
	NameGetTransactions: {
		title:       "Recent transactions",
		description: "Search and filter transactions",
		related:     []string{NameGetExpensesBreakdown, NameGetAccounts},
	},
	NameGetNetWorthAnalysis: {
		title:       "Net worth analysis",
		description: "Net worth trend, asset allocation and liabilities",
		related:     []string{NameGetAccounts, NameGetExpensesBreakdown},
	},
	NameGetExpensesBreakdown: {
		title:       "Expenses breakdown",
		description: "Spending distribution by category",
		related:     []string{NameGetTransactions, NameGetNetWorthAnalysis},
	},
	NameGetInstitutions: {
		title:       "Financial institutions",
		description: "Banks and institutions holding the accounts",
		related:     []string{NameGetAccounts, NameGetNetWorthAnalysis},
	},
	NameGetTransactionsCategories: {
		title:       "Transaction categories",
		description: "Categories in use and how often",
		related:     []string{NameGetExpensesBreakdown, NameGetTransactions},
	},
}

// ToolCallTitle describes a forced tool call in words a chat title can be
// derived from. Unknown tools yield their name.
func ToolCallTitle(toolName string) string {
	if info, ok := toolCatalog[toolName]; ok && info.title != "" {
		return info.title + ": " + info.description
	}
	return toolName
}
