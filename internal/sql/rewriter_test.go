package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/groundsql/internal/errors"
)

func TestDialectRewriter_TSQLPassesThrough(t *testing.T) {
	q := "SELECT TOP 100 [name] FROM [client];"
	out, err := NewDialectRewriter(DialectTSQL).Rewrite(q)
	require.NoError(t, err)
	assert.Equal(t, q, out)
}

func TestDialectRewriter_ANSI(t *testing.T) {
	r := NewDialectRewriter(DialectANSI)
	cases := []struct {
		in, want string
	}{
		{"SELECT TOP 100 name FROM client", "SELECT * FROM (SELECT name FROM client) AS q LIMIT 100"},
		{"SELECT TOP (5) [full name] FROM [dbo].[client] ORDER BY 1;", `SELECT * FROM (SELECT "full name" FROM "dbo"."client" ORDER BY 1) AS q LIMIT 5`},
		{"select distinct top 3 city from client", "SELECT * FROM (select distinct city from client) AS q LIMIT 3"},
		{"SELECT name FROM client", "SELECT name FROM client"},
	}
	for _, tc := range cases {
		out, err := r.Rewrite(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, out, tc.in)
	}
}

// Red-Flag: brackets inside string literals are LIKE character classes, not
// identifiers, and must reach the store untouched.
func TestDialectRewriter_LeavesLiteralsAlone(t *testing.T) {
	r := NewDialectRewriter(DialectANSI)
	cases := []struct {
		in, want string
	}{
		{"SELECT TOP 10 [name] FROM client WHERE name LIKE '[A-C]%'",
			`SELECT * FROM (SELECT "name" FROM client WHERE name LIKE '[A-C]%') AS q LIMIT 10`},
		{"SELECT note FROM client WHERE note = 'it''s [x]' AND [city] = N'[y]'",
			`SELECT note FROM client WHERE note = 'it''s [x]' AND "city" = N'[y]'`},
		{`SELECT "odd [col]" FROM client`, `SELECT "odd [col]" FROM client`},
		{"SELECT a FROM t WHERE b = '[unterminated", "SELECT a FROM t WHERE b = '[unterminated"},
	}
	for _, tc := range cases {
		out, err := r.Rewrite(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, out, tc.in)
	}
}

// Red-Flag: TOP variants without an exact LIMIT translation are refused.
func TestDialectRewriter_RejectsPercent(t *testing.T) {
	_, err := NewDialectRewriter(DialectANSI).Rewrite("SELECT TOP 10 PERCENT name FROM client")
	require.Error(t, err)
	var malformed *errors.ErrMalformedSQL
	assert.True(t, errors.As(err, &malformed))
}
