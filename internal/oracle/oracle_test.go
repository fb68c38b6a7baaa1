package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "test-model"})
	require.NoError(t, err)
	return c
}

func chatReply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		chatReply(w, "  SELECT name FROM client \n")
	})

	text, err := c.Complete(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM client", text)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "question", got.Messages[1].Content)
}

func TestOpenAIClient_FailureKinds(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		kind    errors.OracleFailureKind
	}{
		{"rate limited", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }, errors.OracleRateLimited},
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, errors.OracleUnavailable},
		{"gateway timeout", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusGatewayTimeout) }, errors.OracleTimeout},
		{"bad request", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }, errors.OracleMalformedResponse},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{nope")) }, errors.OracleMalformedResponse},
		{"no choices", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"choices": []}`)) }, errors.OracleMalformedResponse},
		{"empty text", func(w http.ResponseWriter, r *http.Request) { chatReply(w, "   ") }, errors.OracleMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestClient(t, tc.handler).Complete(context.Background(), "q")
			var of *errors.ErrOracleFailure
			require.True(t, errors.As(err, &of), "got %v", err)
			assert.Equal(t, tc.kind, of.Kind)
		})
	}
}

func TestOpenAIClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "q")
	var of *errors.ErrOracleFailure
	require.True(t, errors.As(err, &of))
	assert.Equal(t, errors.OracleUnavailable, of.Kind)
}

// Red-Flag: a client without credentials cannot be built.
func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://x"})
	var mc *errors.ErrMissingConfiguration
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, []string{"oracle.api_key"}, mc.Keys)

	_, err = NewOpenAIClient(OpenAIConfig{APIKey: "k"})
	assert.Error(t, err)
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestResilient_RetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		chatReply(w, "ok")
	})
	r := NewResilient(c, ResilientConfig{Retry: fastRetry()})

	text, err := r.Complete(WithStage(context.Background(), "synthesis"), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 3, calls.Load())
}

// Red-Flag: malformed responses are not retried.
func TestResilient_DoesNotRetryMalformed(t *testing.T) {
	s := NewScripted().Push(Reply{Err: errors.NewOracleFailure(errors.OracleMalformedResponse, nil)})
	_, err := NewResilient(s, ResilientConfig{Retry: fastRetry()}).Complete(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 1, s.Calls())
}

func TestResilient_PerCallTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := NewResilient(slow, ResilientConfig{CallTimeout: 5 * time.Millisecond, Retry: retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}})

	start := time.Now()
	_, err := r.Complete(context.Background(), "q")
	var of *errors.ErrOracleFailure
	require.True(t, errors.As(err, &of))
	assert.Equal(t, errors.OracleTimeout, of.Kind)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

// Plain errors from a wrapped oracle still surface as oracle failures.
func TestResilient_WrapsUntypedErrors(t *testing.T) {
	s := NewScripted().Push(Reply{Err: errors.New("boom")})
	_, err := NewResilient(s, ResilientConfig{Retry: fastRetry()}).Complete(context.Background(), "q")
	var of *errors.ErrOracleFailure
	require.True(t, errors.As(err, &of))
	assert.Equal(t, errors.OracleUnavailable, of.Kind)
}

func TestScripted(t *testing.T) {
	s := NewScripted("a", "b")
	ctx := context.Background()
	got, err := s.Complete(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	got, _ = s.Complete(ctx, "p2")
	assert.Equal(t, "b", got)
	_, err = s.Complete(ctx, "p3")
	assert.Error(t, err)
	assert.Equal(t, 3, s.Calls())
	assert.Equal(t, []string{"p1", "p2", "p3"}, s.Prompts())
}

func TestStageFrom(t *testing.T) {
	assert.Equal(t, "unknown", StageFrom(context.Background()))
	assert.Equal(t, "intent", StageFrom(WithStage(context.Background(), "intent")))
}
