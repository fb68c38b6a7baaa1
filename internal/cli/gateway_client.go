package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/pkg/api"
	"github.com/canonica-labs/groundsql/pkg/models"
)

// GatewayClient is the HTTP client for communicating with the groundsql
// gateway. It implements Backend.
type GatewayClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewGatewayClient creates a new gateway client.
func NewGatewayClient(endpoint, token string) *GatewayClient {
	return &GatewayClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    strings.TrimSpace(token),
		httpClient: &http.Client{
			// execution and summary run inside the approval request
			Timeout: 2 * time.Minute,
		},
	}
}

// Endpoint returns the configured gateway endpoint.
func (c *GatewayClient) Endpoint() string {
	return c.endpoint
}

// Token returns the configured authentication token.
func (c *GatewayClient) Token() string {
	return c.token
}

// Ask implements Backend.
func (c *GatewayClient) Ask(ctx context.Context, question string) (models.Question, error) {
	var out models.Question
	err := c.call(ctx, http.MethodPost, api.EndpointQuestions, models.AskRequest{Question: question}, &out)
	return out, err
}

// Approve implements Backend.
func (c *GatewayClient) Approve(ctx context.Context, id string) (models.Question, error) {
	var out models.Question
	err := c.call(ctx, http.MethodPost, api.ApprovalPath(id), models.NewApprovalRequest(true, ""), &out)
	return out, err
}

// Reject implements Backend.
func (c *GatewayClient) Reject(ctx context.Context, id, reason string) (models.Question, error) {
	var out models.Question
	err := c.call(ctx, http.MethodPost, api.ApprovalPath(id), models.NewApprovalRequest(false, reason), &out)
	return out, err
}

// Question implements Backend.
func (c *GatewayClient) Question(ctx context.Context, id string) (models.Question, error) {
	var out models.Question
	err := c.call(ctx, http.MethodGet, api.QuestionPath(id), nil, &out)
	return out, err
}

// History implements Backend.
func (c *GatewayClient) History(ctx context.Context, limit int) (models.QuestionList, error) {
	path := api.EndpointQuestions
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out models.QuestionList
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Schema implements Backend.
func (c *GatewayClient) Schema(ctx context.Context) (models.Schema, error) {
	var out models.Schema
	err := c.call(ctx, http.MethodGet, api.EndpointSchema, nil, &out)
	return out, err
}

// RefreshSchema implements Backend.
func (c *GatewayClient) RefreshSchema(ctx context.Context, source string) (models.Schema, error) {
	var out models.Schema
	err := c.call(ctx, http.MethodPost, api.EndpointSchemaRefresh, models.RefreshRequest{Source: source}, &out)
	return out, err
}

// CheckSQL implements Backend.
func (c *GatewayClient) CheckSQL(ctx context.Context, query string, rowLimit int) (models.SQLCheckResult, error) {
	var out models.SQLCheckResult
	err := c.call(ctx, http.MethodPost, api.EndpointSQLCheck, models.SQLCheckRequest{SQL: query, RowLimit: rowLimit}, &out)
	return out, err
}

// AuditSummary implements Backend.
func (c *GatewayClient) AuditSummary(ctx context.Context) (models.AuditSummary, error) {
	var out models.AuditSummary
	err := c.call(ctx, http.MethodGet, api.EndpointAuditSummary, nil, &out)
	return out, err
}

// WhoAmI implements Backend.
func (c *GatewayClient) WhoAmI(ctx context.Context) (models.AuthStatus, error) {
	var out models.AuthStatus
	err := c.call(ctx, http.MethodGet, api.EndpointAuth, nil, &out)
	return out, err
}

// Status implements Backend. A gateway that answers 503 is reported as not
// ready rather than as an error.
func (c *GatewayClient) Status(ctx context.Context) (models.HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, api.EndpointHealth, nil)
	if err != nil {
		return models.HealthResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return models.HealthResponse{}, c.parseErrorResponse(resp)
	}
	var out models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.HealthResponse{}, errors.Wrap(err, "failed to decode response")
	}
	return out, nil
}

// Close implements Backend.
func (c *GatewayClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *GatewayClient) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// doRequest performs an HTTP request to the gateway.
func (c *GatewayClient) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if c.endpoint == "" {
		return nil, gatewayUnavailable("", "no gateway endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	req.Header.Set(api.HeaderContentType, api.ContentTypeJSON)
	if c.token != "" {
		req.Header.Set(api.HeaderAuthorization, "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, gatewayUnavailable(c.endpoint, err.Error())
	}
	return resp, nil
}

// parseErrorResponse turns an error body back into a groundsql error so the
// exit code matches the in-process one.
func (c *GatewayClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &errors.GroundError{
			Code:    codeForStatus(resp.StatusCode),
			Message: fmt.Sprintf("gateway error: %d", resp.StatusCode),
			Reason:  strings.TrimSpace(string(body)),
		}
	}
	return &errors.GroundError{
		Code:       codeForStatus(resp.StatusCode),
		Message:    errResp.Error,
		Reason:     errResp.Reason,
		Suggestion: errResp.Suggestion,
	}
}

func codeForStatus(status int) errors.ErrorCode {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.CodeAuth
	case status >= 400 && status < 500:
		return errors.CodeValidation
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return errors.CodeUpstream
	default:
		return errors.CodeInternal
	}
}

func gatewayUnavailable(endpoint, reason string) error {
	msg := "gateway unavailable"
	if endpoint != "" {
		msg = fmt.Sprintf("gateway unavailable at %s", endpoint)
	}
	return &errors.GroundError{
		Code:       errors.CodeUpstream,
		Message:    msg,
		Reason:     reason,
		Suggestion: "check --endpoint, or start the gateway with 'groundsql-gateway'",
	}
}
