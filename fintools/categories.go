package fintools

import (
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
	"github.com/hupe1980/finmesh/internal/util"
	"github.com/hupe1980/finmesh/tool"
)

const categoriesDescription = `Retrieves the transaction categories used by the current user, most used first.

Use this tool when:
- the user asks which categories their transactions are filed under,
- you need a category slug before filtering transactions or expenses by category,
- or they ask how often a category is used.

Never use this tool to get amounts spent per category; use the expenses breakdown for that.

Returns a list of categories, each with slug, name, whether it is excluded
from reports, and the number of transactions.`

var categoriesInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"q": map[string]any{
			"type":        "string",
			"description": "Search query for filtering categories by slug or name.",
		},
		"limit": map[string]any{
			"type":        "integer",
			"minimum":     1,
			"maximum":     100,
			"default":     50,
			"description": "Maximum number of categories to return.",
		},
	},
}

type categoriesInput struct {
	Q     string `json:"q"`
	Limit int    `json:"limit"`
}

func newCategoriesTool() *tool.FunctionTool {
	return tool.NewFunctionTool(NameGetTransactionsCategories, categoriesDescription, categoriesInputSchema, getTransactionsCategories,
		tool.WithOutputStruct([]finance.CategoryUsage{}))
}

func getTransactionsCategories(tc *core.ToolContext, args map[string]any) (any, error) {
	ec, err := tc.Exec()
	if err != nil {
		return nil, err
	}
	in, err := util.Decode[categoriesInput](args)
	if err != nil {
		return nil, err
	}

	categories, err := ec.DB.Categories(tc.Context(), ec.OrganizationID, in.Q, in.Limit)
	if err != nil {
		return nil, &tool.ToolError{
			Tool:    NameGetTransactionsCategories,
			Message: "failed to retrieve transaction categories",
			Code:    tool.CodeExecution,
			Err:     err,
		}
	}
	if categories == nil {
		categories = []finance.CategoryUsage{}
	}
	return categories, nil
}
