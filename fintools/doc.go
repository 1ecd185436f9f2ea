// Package fintools provides the finance tools the assistant exposes to the
// model.
//
// Simple tools (getAccounts, getTransactions, getInstitutions,
// getTransactionsCategories) return one validated value and are memoized per turn through the fingerprint cache. Analysis tools
// (getNetWorthAnalysis, getExpensesBreakdown) are staged: they stream
// cumulative text while pushing their artifact through the loading,
// chart_ready, metrics_ready and analysis_ready stages, publish follow-up
// questions and end the turn with a ForceStop chunk.
//
// All tools read identity and data access from the execution context bound
// to the call; none of them hold per-turn state.
//
//	reg := fintools.NewRegistry(func(o *fintools.Options) {
//		o.Model = m
//		o.Cache = cache.New()
//	})
package fintools
