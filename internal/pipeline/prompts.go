package pipeline

import (
	"fmt"
	"strings"

	"github.com/canonica-labs/groundsql/internal/present"
)

// Sentinel is the exact reply with which the oracle declines to write SQL.
// Anything else, including a reworded variant, is treated as SQL.
const Sentinel = "NO_SCHEMA_MATCH: No correct schema identified to answer the question."

// SummarySampleRows is how many rows the summary prompt shows the oracle.
const SummarySampleRows = 3

func intentPrompt(question string, tables []string) string {
	known := "none"
	if len(tables) > 0 {
		known = strings.Join(tables, ", ")
	}
	return fmt.Sprintf(`Analyze the following database question and extract:
1. The intent (what the user wants to do, e.g. "get data", "aggregate", "filter", "join")
2. Key entities mentioned (table names, column names, filter values)

User Question: %s

Respond in exactly this format:
Intent: <intent>
Entities: <comma-separated list of entities>
Tables Likely Needed: <comma-separated list of table names from: %s>
`, question, known)
}

func synthesisPrompt(question, schemaContext string) string {
	return fmt.Sprintf(`You are an expert SQL developer working with a Microsoft SQL Server database.

Database Schema (the only tables and columns you may use):
%s
User Request: %s

Rules:
1. Generate a single SELECT query. Never INSERT, UPDATE, DELETE, DROP, EXEC or any other statement.
2. Use Microsoft SQL Server (T-SQL) syntax.
3. Use only the tables and columns listed above. Never invent a table or a column.
4. If the listed schema cannot answer the request, reply with exactly this line and nothing else:
%s
5. Reply with the SQL only, no explanations. A `+"```sql"+` fence is allowed.

SQL Query:`, schemaContext, question, Sentinel)
}

func summaryPrompt(question string, columns []string, rows []Record) string {
	return fmt.Sprintf(`Provide a brief, natural language summary of these query results for the user.

User's Question: %s

Columns: %s
Number of Results: %d
Sample Data:
%s

Write a concise 2-3 sentence summary that confirms what data was retrieved and highlights key findings.

Summary:`, question, strings.Join(present.Columns(columns, rows), ", "), len(rows),
		present.Sample(columns, rows, SummarySampleRows))
}
