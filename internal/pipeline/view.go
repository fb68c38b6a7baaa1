package pipeline

import (
	"github.com/canonica-labs/groundsql/pkg/models"
)

// Model returns the API view of s.
func (s State) Model() models.Question {
	q := models.Question{
		ID:                s.ID,
		Question:          s.Question,
		AskedBy:           s.AskedBy,
		Step:              string(s.Step),
		Done:              s.Done(),
		Intent:            s.Intent,
		Entities:          cloneStrings(s.Entities),
		CandidateTables:   cloneStrings(s.CandidateTables),
		SchemaContext:     s.SchemaContext,
		SQL:               s.SQL(),
		IsValid:           s.IsValid,
		ValidationMessage: s.ValidationMessage,
		TablesUsed:        cloneStrings(s.TablesUsed),
		RequiresApproval:  s.RequiresHumanApproval,
		Approved:          s.Approved,
		ApprovedBy:        s.ApprovedBy,
		RejectedBy:        s.RejectedBy,
		RejectionReason:   s.RejectionReason,
		Columns:           cloneStrings(s.Columns),
		RowCount:          s.RowCount(),
		Messages:          make([]models.Message, 0, len(s.Messages)),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if q.Entities == nil {
		q.Entities = []string{}
	}
	if s.Grounding != nil {
		q.GroundedTables = cloneStrings(s.Grounding.MatchedTables)
		if len(s.Grounding.Scores) > 0 {
			q.Scores = make(map[string]int, len(s.Grounding.Scores))
			for k, v := range s.Grounding.Scores {
				q.Scores[k] = v
			}
		}
	}
	if s.Rows != nil {
		q.Rows = make([]map[string]interface{}, len(*s.Rows))
		for i, r := range *s.Rows {
			q.Rows[i] = r
		}
	}
	if s.ExecutionError != nil {
		q.ExecutionError = *s.ExecutionError
	}
	if s.Summary != nil {
		q.Summary = *s.Summary
	}
	if s.FatalError != nil {
		q.FatalError = *s.FatalError
	}
	for _, m := range s.Messages {
		q.Messages = append(q.Messages, models.Message{Stage: m.Stage, Level: m.Level, Text: m.Text, At: m.At})
	}
	return q
}

// Models converts a list of states.
func Models(states []State) []models.Question {
	out := make([]models.Question, len(states))
	for i, s := range states {
		out[i] = s.Model()
	}
	return out
}
