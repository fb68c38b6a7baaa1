package oracle

import (
	"context"
	"sync"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// Reply is one scripted oracle answer.
type Reply struct {
	Text string
	Err  error
}

// Scripted replays canned replies in order and records every prompt.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	prompts []string
}

// NewScripted creates an oracle that answers with texts in order.
func NewScripted(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

// Push appends a reply.
func (s *Scripted) Push(r Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return s
}

// Complete implements Oracle. Once the script is exhausted every call fails
// as unavailable.
func (s *Scripted) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if err := ctx.Err(); err != nil {
		return "", errors.NewOracleFailure(errors.OracleTimeout, err)
	}
	if len(s.replies) == 0 {
		return "", errors.NewOracleFailure(errors.OracleUnavailable, errors.New("script exhausted"))
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.Text, r.Err
}

// Calls returns how many times Complete was called.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// Prompts returns the prompts received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
