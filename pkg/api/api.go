// Package api defines the public API endpoints of the groundsql gateway.
package api

import "net/url"

// API version
const Version = "0.1.0"

// API endpoints. Paths with :id are echo route templates.
const (
	EndpointQuestions     = "/api/v1/questions"
	EndpointQuestion      = "/api/v1/questions/:id"
	EndpointApproval      = "/api/v1/questions/:id/approval"
	EndpointSchema        = "/api/v1/schema"
	EndpointSchemaRefresh = "/api/v1/schema/refresh"
	EndpointSQLCheck      = "/api/v1/sql/check"
	EndpointAuth          = "/api/v1/auth"
	EndpointAuditSummary  = "/api/v1/audit/summary"
	EndpointHealth        = "/health"
	EndpointMetrics       = "/metrics"
)

// HTTP headers
const (
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
	HeaderQuestionID    = "X-Question-ID"
)

// Content types
const (
	ContentTypeJSON = "application/json"
)

// QuestionPath returns the path of one question.
func QuestionPath(id string) string {
	return EndpointQuestions + "/" + url.PathEscape(id)
}

// ApprovalPath returns the approval path of one question.
func ApprovalPath(id string) string {
	return QuestionPath(id) + "/approval"
}
