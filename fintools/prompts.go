package fintools

const introInstructions = `You are a financial assistant generating a brief initial message for {{.analysis}}.

The user has requested {{.analysis}} for the period {{.from}} to {{.to}}.
Create a message that:
- Acknowledges the specific time period being analyzed
- Explains what you're currently doing ({{.doing}})
- Mentions the insights they'll receive ({{.insights}})
- Uses a warm, professional tone
- Uses the user's first name ({{.name}}) when appropriate
- Keep it concise (1-2 sentences max)`

const introPrompt = `Generate a brief initial message for {{.analysis}} for the period {{.from}} to {{.to}}.`

const introFallback = `I'm analyzing your {{.subject}} from {{.from}} to {{.to}} to show you {{.insights}}.`

const netWorthSummaryPrompt = `Analyze this net worth data:

Current Net Worth: {{.current}}
Change: {{.changePct}}% over {{.points}} data points
Top Asset: {{.topAsset}} ({{.topAssetPct}}%)
Top Liability: {{.topLiability}} ({{.topLiabilityAmount}})

Provide a concise 2-sentence summary and 2-3 brief recommendations, one per line.`

const netWorthAnalysisInstructions = `You are a financial assistant providing a net worth analysis.
Generate ONLY the detailed analysis section using the exact data provided.

REQUIRED FORMAT:
## Net Worth Overview
## Asset Allocation
## Liabilities
## Trends and Insights`

const netWorthAnalysisFallback = `## Net Worth Overview
Your current net worth is {{.current}}, a change of {{.changePct}}% over the selected period.

## Asset Allocation
Your largest asset is {{.topAsset}}, representing {{.topAssetPct}}% of your total assets.

## Liabilities
Your main liability is {{.topLiability}}, with a balance of {{.topLiabilityAmount}}.`

const expensesSummaryPrompt = `Analyze these expenses by category:

Total: {{.total}}
Top Category: {{.topCategory}} ({{.topCategoryPct}}%)

Generate a 2-sentence summary and 2-3 recommendations for improving spending, one per line.`

const expensesAnalysisInstructions = `You are a financial assistant providing an expenses breakdown.
Generate ONLY the detailed analysis with the exact data provided.

REQUIRED FORMAT:
## Total Expenses
## Top Category
## Spending Distribution
## Insights`

const expensesAnalysisFallback = `## Total Expenses
Your total expenses were {{.total}}.

## Top Category
Your largest expense was {{.topCategory}}, representing {{.topCategoryPct}}% of your total.

## Spending Distribution
The chart shows how your spending is distributed across {{.categories}} categories.`

const followupInstructions = `You are a financial assistant generating follow-up questions for a personal finance platform.

Based on the tool output provided, generate 2-4 contextual follow-up questions that would be natural next steps. Each question should be:
- Short and actionable (max 8-10 words)
- Specific to the data and insights shown in the tool output
- Answerable with the available tools

Reply with a JSON object: {"questions": ["..."]}

Tool: {{.tool}}
{{with .description}}Tool description: {{.}}
{{end}}{{with .related}}Available related tools:
{{range .}}- {{.}}
{{end}}{{end}}`

const followupPrompt = `Based on this tool output, generate relevant follow-up questions that would naturally extend the analysis:

{{.output}}`

const titleInstructions = `You will generate a short, natural title based on the user's message.
- Keep titles under 50 characters
- Use natural, conversational language that sounds like what a user would say
- Return a JSON object: {"title": "..."}

Current date and time: {{.now}}
Base currency: {{.currency}}
User full name: {{.name}}
User current city: {{.city}}
User current country: {{.country}}
User local timezone: {{.timezone}}`
