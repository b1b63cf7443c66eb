package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/cost"
	"github.com/simula/soccer-rag/internal/datasource"
	"github.com/simula/soccer-rag/internal/fixture"
	"github.com/simula/soccer-rag/internal/llm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// scripted replays canned replies and records every request.
type scripted struct {
	replies  []string
	requests []llm.Request
}

func (s *scripted) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	if len(s.requests) > len(s.replies) {
		return nil, fmt.Errorf("unexpected call %d", len(s.requests))
	}
	return &llm.Response{
		Text:  s.replies[len(s.requests)-1],
		Usage: cost.Usage{Input: 100, Output: 10},
	}, nil
}

func lastMessage(req llm.Request) string {
	return req.Messages[len(req.Messages)-1].Content
}

func openFixture(t *testing.T) datasource.Source {
	t.Helper()
	src, err := datasource.OpenSQLite(context.Background(), fixture.SoccerDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestAsk_QueriesThenAnswers(t *testing.T) {
	c := &scripted{replies: []string{
		`{"sql": "SELECT name FROM teams WHERE id = 7"}`,
		"```json\n{\"answer\": \"Arsenal\"}\n```",
	}}
	a := New(c, openFixture(t), nil, Options{})

	ans, err := a.Ask(context.Background(), "Which team has id 7?")
	require.NoError(t, err)
	assert.Equal(t, "Arsenal", ans.Text)
	assert.Equal(t, []string{"SELECT name FROM teams WHERE id = 7"}, ans.Queries)
	assert.Equal(t, cost.Usage{Input: 200, Output: 20}, ans.Usage)

	require.Len(t, c.requests, 2)
	assert.Equal(t, "agent", c.requests[0].Phase)
	assert.Contains(t, c.requests[0].System, "SQLite")
	assert.Contains(t, c.requests[0].System, "- teams(id INTEGER, name TEXT)")
	assert.Contains(t, lastMessage(c.requests[1]), "Result:\nname\nArsenal")
}

func TestAsk_RefusesWrites(t *testing.T) {
	c := &scripted{replies: []string{
		`{"sql": "DELETE FROM teams"}`,
		`{"answer": "I don't know"}`,
	}}
	ans, err := New(c, openFixture(t), nil, Options{}).Ask(context.Background(), "drop everything")
	require.NoError(t, err)
	assert.Equal(t, "I don't know", ans.Text)
	assert.Contains(t, lastMessage(c.requests[1]), "unsafe SQL")
}

func TestAsk_QueryErrorFedBack(t *testing.T) {
	c := &scripted{replies: []string{
		`{"sql": "SELECT nope FROM teams"}`,
		`{"answer": "done"}`,
	}}
	_, err := New(c, openFixture(t), nil, Options{}).Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Contains(t, lastMessage(c.requests[1]), "Rewrite the query")
}

func TestAsk_NudgesOnProse(t *testing.T) {
	c := &scripted{replies: []string{
		"Let me think about this.",
		`{"answer": "42"}`,
	}}
	ans, err := New(c, openFixture(t), nil, Options{}).Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "42", ans.Text)
	assert.Contains(t, lastMessage(c.requests[1]), `{"sql": "<query>"}`)
}

func TestAsk_IterationLimit(t *testing.T) {
	c := &scripted{replies: []string{
		`{"sql": "SELECT 1"}`,
		`{"sql": "SELECT 2"}`,
	}}
	ans, err := New(c, openFixture(t), nil, Options{MaxIterations: 2}).Ask(context.Background(), "q")
	assert.ErrorIs(t, err, ErrNoAnswer)
	require.NotNil(t, ans)
	assert.Len(t, ans.Queries, 2)
}

func TestAsk_CompleterError(t *testing.T) {
	c := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return nil, errors.New("quota")
	})
	_, err := New(c, openFixture(t), nil, Options{}).Ask(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestSystemPrompt_FewShot(t *testing.T) {
	examples := []Example{
		{Input: "Which country is Didier Drogba from?", Query: "SELECT country FROM players"},
		{Input: "How many goals did Arsenal score?", Query: "SELECT SUM(goal_home) FROM games"},
		{Input: "Is Manchester United in the database?", Query: "SELECT id FROM teams"},
	}
	src := openFixture(t)
	tables, err := src.Tables(context.Background())
	require.NoError(t, err)

	a := New(&scripted{}, src, examples, Options{FewShotK: 1, TopK: 5})
	prompt := a.systemPrompt("How many goals did Arsenal score in 2015?", tables)
	assert.Contains(t, prompt, "at most 5 results")
	assert.Contains(t, prompt, "User input: How many goals did Arsenal score?\nSQL query: SELECT SUM(goal_home) FROM games")
	assert.NotContains(t, prompt, "Drogba")

	a = New(&scripted{}, src, examples, Options{FewShotK: 2, NoFewShot: true})
	assert.NotContains(t, a.systemPrompt("How many goals did Arsenal score?", tables), "User input:")
}

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		sql  string
		want string
		ok   bool
	}{
		{"SELECT 1;", "SELECT 1", true},
		{"  with x AS (SELECT 1) SELECT * FROM x", "with x AS (SELECT 1) SELECT * FROM x", true},
		{"SELECT ';' AS semi", "SELECT ';' AS semi", true},
		{"WITH d AS (DELETE FROM teams RETURNING *) SELECT * FROM d", "", false},
		{"SELECT 1; DROP TABLE teams", "", false},
		{"UPDATE teams SET name = 'x'", "", false},
		{"PRAGMA table_info(teams)", "", false},
		{"WITH x AS (SELECT 1) DELETE FROM teams", "", false},
		{"WITH x AS (SELECT 1) UPDATE teams SET name = 'x'", "", false},
		{"SELECT * INTO teams_copy FROM teams", "", false},
		{"WITH x AS (SELECT 1) MERGE INTO teams USING x ON 1 = 0 WHEN NOT MATCHED THEN INSERT (id) VALUES (1)", "", false},
		{"SELECT name FROM teams WHERE name = 'insert into'", "SELECT name FROM teams WHERE name = 'insert into'", true},
		{"SELECT [update] FROM teams", "SELECT [update] FROM teams", true},
		{"SELECT updated_at FROM games", "SELECT updated_at FROM games", true},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			got, err := CheckReadOnly(tt.sql)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrUnsafeSQL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatRows(t *testing.T) {
	rows := &datasource.Rows{
		Columns: []string{"id", "name"},
		Values:  [][]any{{int64(1), "Chelsea"}, {int64(7), nil}, {int64(12), "Man United"}},
	}
	assert.Equal(t, "Result:\nid | name\n1 | Chelsea\n7 | NULL\n(1 more rows not shown)\n", FormatRows(rows, 2))
	assert.Equal(t, "Result: no rows", FormatRows(&datasource.Rows{}, 2))
}

func TestSelectExamples(t *testing.T) {
	examples := []Example{{Input: "red cards"}, {Input: "goals scored by Arsenal"}, {Input: "goals scored"}}
	got := SelectExamples(examples, "goals scored by Arsenal", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "goals scored by Arsenal", got[0].Input)
	assert.Nil(t, SelectExamples(examples, "x", 0))
	assert.Len(t, SelectExamples(examples, "x", 10), 3)
}

func TestLoadExamples(t *testing.T) {
	examples, err := LoadExamples("../../conf/sqls.json")
	require.NoError(t, err)
	require.NotEmpty(t, examples)
	for _, ex := range examples {
		assert.NotEmpty(t, ex.Input)
		_, err := CheckReadOnly(ex.Query)
		assert.NoError(t, err, ex.Query)
	}

	_, err = LoadExamples("missing.json")
	assert.Error(t, err)
}
