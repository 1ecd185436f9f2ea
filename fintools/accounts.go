package fintools

import (
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
	"github.com/hupe1980/finmesh/internal/util"
	"github.com/hupe1980/finmesh/tool"
)

const accountsDescription = `Retrieves bank accounts of the current user.

Use this tool when:
- the user asks to list, search, or view their bank accounts,
- they mention accounts by name (e.g. "my Revolut account"),
- they want only active/inactive, manual, or connected accounts,
- or they ask about available account types or balances.

Never use this tool to get transactions or historical balances.

Returns a structured list of accounts. Each item includes id, name, type,
subtype, balance, currency, and metadata.`

var accountsInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"q": map[string]any{
			"type":        "string",
			"description": "Search query for filtering bank accounts by name or description.",
		},
		"type": map[string]any{
			"type":        "string",
			"enum":        []string{finance.AccountTypeAsset, finance.AccountTypeLiability},
			"description": "Filter bank accounts by their type.",
		},
		"subtype": map[string]any{
			"type":        "string",
			"enum":        finance.AccountSubtypes,
			"description": "Filter bank accounts by their subtype.",
		},
		"enabled": map[string]any{
			"type":        "boolean",
			"default":     true,
			"description": "If true, only return enabled accounts; if false, only disabled ones.",
		},
		"manual": map[string]any{
			"type":        "boolean",
			"description": "If true, only return manually created accounts; if false, only connected ones; if omitted, return all.",
		},
	},
}

type accountsInput struct {
	Q       string `json:"q"`
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Enabled *bool  `json:"enabled"`
	Manual  *bool  `json:"manual"`
}

func newAccountsTool() *tool.FunctionTool {
	return tool.NewFunctionTool(NameGetAccounts, accountsDescription, accountsInputSchema, getAccounts,
		tool.WithOutputStruct([]finance.Account{}))
}

func getAccounts(tc *core.ToolContext, args map[string]any) (any, error) {
	ec, err := tc.Exec()
	if err != nil {
		return nil, err
	}
	in, err := util.Decode[accountsInput](args)
	if err != nil {
		return nil, err
	}

	accounts, err := ec.DB.Accounts(tc.Context(), ec.OrganizationID, finance.AccountFilter{
		Query:   in.Q,
		Type:    in.Type,
		Subtype: in.Subtype,
		Enabled: in.Enabled,
		Manual:  in.Manual,
	})
	if err != nil {
		return nil, &tool.ToolError{
			Tool:    NameGetAccounts,
			Message: "failed to retrieve bank accounts",
			Code:    tool.CodeExecution,
			Err:     err,
		}
	}
	if accounts == nil {
		accounts = []finance.Account{}
	}
	return accounts, nil
}
