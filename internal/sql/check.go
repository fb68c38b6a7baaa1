package sql

import "github.com/canonica-labs/groundsql/pkg/models"

// Check runs query through v and, when it is accepted, the limit enforcer.
// Nothing is executed.
func Check(v *Validator, query string, rowLimit int) models.SQLCheckResult {
	res := v.Validate(query)
	out := models.SQLCheckResult{
		Valid:            res.IsValid,
		Message:          res.Message,
		Tables:           res.TablesUsed,
		RequiresApproval: res.RequiresHumanApproval,
	}
	if res.Violation != nil {
		out.Rule = string(res.Violation.Rule)
		return out
	}
	out.LimitedSQL = EnforceLimit(query, rowLimit)
	return out
}
