package fintools

import (
	"github.com/hupe1980/finmesh/core"
	"github.com/hupe1980/finmesh/finance"
	"github.com/hupe1980/finmesh/internal/util"
	"github.com/hupe1980/finmesh/tool"
)

const institutionsDescription = `Retrieves the financial institutions (banks, card issuers, brokers) the
current user's accounts are held at.

Use this tool when:
- the user asks which banks or institutions they use,
- they want to know how many accounts they hold at a given bank,
- or they mention an institution by name (e.g. "am I with Revolut?").

Never use this tool to get balances or transactions.

Returns a list of institutions, each with name, logo and number of accounts.`

var institutionsInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"q": map[string]any{
			"type":        "string",
			"description": "Search query for filtering institutions by name.",
		},
	},
}

type institutionsInput struct {
	Q string `json:"q"`
}

func newInstitutionsTool() *tool.FunctionTool {
	return tool.NewFunctionTool(NameGetInstitutions, institutionsDescription, institutionsInputSchema, getInstitutions,
		tool.WithOutputStruct([]finance.InstitutionSummary{}))
}

func getInstitutions(tc *core.ToolContext, args map[string]any) (any, error) {
	ec, err := tc.Exec()
	if err != nil {
		return nil, err
	}
	in, err := util.Decode[institutionsInput](args)
	if err != nil {
		return nil, err
	}

	institutions, err := ec.DB.Institutions(tc.Context(), ec.OrganizationID, in.Q)
	if err != nil {
		return nil, &tool.ToolError{
			Tool:    NameGetInstitutions,
			Message: "failed to retrieve institutions",
			Code:    tool.CodeExecution,
			Err:     err,
		}
	}
	if institutions == nil {
		institutions = []finance.InstitutionSummary{}
	}
	return institutions, nil
}
