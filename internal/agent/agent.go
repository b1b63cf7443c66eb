// Package agent answers a cleaned question by letting a language model
// query the soccer database until it can reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/cost"
	"github.com/simula/soccer-rag/internal/datasource"
	"github.com/simula/soccer-rag/internal/llm"
)

// ErrNoAnswer is returned when the model did not answer within the
// iteration limit.
var ErrNoAnswer = eris.New("agent: no answer within iteration limit")

// Agent answers a question.
type Agent interface {
	Ask(ctx context.Context, prompt string) (*Answer, error)
}

// Answer is the agent's reply and the queries it ran to get there.
type Answer struct {
	Text    string     `json:"text"`
	Queries []string   `json:"queries"`
	Prompt  string     `json:"-"`
	Usage   cost.Usage `json:"usage"`
}

// Options tune the agent loop.
type Options struct {
	MaxIterations int
	TopK          int
	FewShotK      int
	NoFewShot     bool
	MaxTokens     int
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 10
	}
	if o.TopK <= 0 {
		o.TopK = 30
	}
	if o.FewShotK < 0 {
		o.FewShotK = 0
	}
	return o
}

// SQLAgent runs model-written read-only SQL against a Source.
type SQLAgent struct {
	llm      llm.Completer
	src      datasource.Source
	examples []Example
	opts     Options
}

// New builds an agent. examples may be empty.
func New(c llm.Completer, src datasource.Source, examples []Example, opts Options) *SQLAgent {
	return &SQLAgent{llm: c, src: src, examples: examples, opts: opts.withDefaults()}
}

type step struct {
	SQL    string `json:"sql"`
	Answer string `json:"answer"`
}

func (a *SQLAgent) Ask(ctx context.Context, prompt string) (*Answer, error) {
	tables, err := a.src.Tables(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "agent: list tables")
	}

	system := a.systemPrompt(prompt, tables)
	ans := &Answer{Prompt: system}
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	for i := 0; i < a.opts.MaxIterations; i++ {
		resp, err := a.llm.Complete(ctx, llm.Request{
			System:    system,
			Messages:  messages,
			MaxTokens: a.opts.MaxTokens,
			JSON:      true,
			Phase:     "agent",
		})
		if err != nil {
			return nil, eris.Wrap(err, "agent: complete")
		}
		ans.Usage.Input += resp.Usage.Input
		ans.Usage.Output += resp.Usage.Output
		ans.Usage.CacheRead += resp.Usage.CacheRead
		ans.Usage.CacheWrite += resp.Usage.CacheWrite
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text})

		var s step
		if err := llm.DecodeJSON(resp.Text, &s); err != nil {
			zap.L().Debug("agent: unparsable reply", zap.Int("iteration", i), zap.Error(err))
			messages = append(messages, llm.Message{Role: llm.RoleUser,
				Content: `Reply with a JSON object: {"sql": "<query>"} to run a query or {"answer": "<text>"} to finish.`})
			continue
		}
		if s.Answer != "" {
			ans.Text = strings.TrimSpace(s.Answer)
			zap.L().Info("agent: answered",
				zap.Int("iterations", i+1),
				zap.Int("queries", len(ans.Queries)),
			)
			return ans, nil
		}
		if s.SQL == "" {
			messages = append(messages, llm.Message{Role: llm.RoleUser,
				Content: `Either "sql" or "answer" must be set.`})
			continue
		}

		ans.Queries = append(ans.Queries, s.SQL)
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: a.run(ctx, s.SQL)})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return ans, ErrNoAnswer
}

// run executes one statement and renders the observation fed back to the
// model. Failures become text so the model can rewrite its query.
func (a *SQLAgent) run(ctx context.Context, sql string) string {
	stmt, err := CheckReadOnly(sql)
	if err != nil {
		zap.L().Warn("agent: refused statement", zap.String("sql", sql), zap.Error(err))
		return "Error: " + err.Error() + ". Only a single read-only SELECT is allowed."
	}

	rows, err := a.src.Query(ctx, stmt)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "Error: cancelled"
		}
		zap.L().Debug("agent: query failed", zap.String("sql", stmt), zap.Error(err))
		return "Error: " + err.Error() + ". Rewrite the query and try again."
	}
	return FormatRows(rows, a.opts.TopK)
}

// FormatRows renders at most limit rows as a pipe separated table.
func FormatRows(rows *datasource.Rows, limit int) string {
	if rows.Len() == 0 {
		return "Result: no rows"
	}
	var b strings.Builder
	b.WriteString("Result:\n")
	b.WriteString(strings.Join(rows.Columns, " | "))
	b.WriteString("\n")

	n := rows.Len()
	if limit > 0 && n > limit {
		n = limit
	}
	for _, row := range rows.Values[:n] {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = datasource.ToString(v)
			}
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	if rows.Len() > n {
		fmt.Fprintf(&b, "(%d more rows not shown)\n", rows.Len()-n)
	}
	return b.String()
}

func (a *SQLAgent) systemPrompt(question string, tables []datasource.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are an agent designed to interact with a SQL database.
Given an input question, create a syntactically correct %s query to run, then look at the results of the query and return the answer.
ALWAYS query the database before returning an answer.
Unless the user specifies a specific number of examples they wish to obtain, always limit your query to at most %d results.
You can order the results by a relevant column to return the most interesting examples in the database.
Never query for all the columns from a specific table, only ask for the relevant columns given the question.
You MUST double check your query before executing it. If you get an error while executing a query, rewrite the query and try again.

DO NOT make any DML statements (INSERT, UPDATE, DELETE, DROP etc.) to the database.

If the question does not seem related to the database, just return 'I don't know' as the answer.
DO NOT include information that is not present in the database in your answer.

Reply with exactly one JSON object per turn: {"sql": "<query>"} to run a query, or {"answer": "<final answer>"} when done.
`, a.src.Dialect().Describe(), a.opts.TopK)

	b.WriteString("\nTables:\n")
	for _, t := range tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
			if c.Type != "" {
				cols[i] += " " + c.Type
			}
		}
		fmt.Fprintf(&b, "- %s(%s)\n", t.Name, strings.Join(cols, ", "))
	}

	if a.opts.NoFewShot {
		return b.String()
	}
	shots := SelectExamples(a.examples, question, a.opts.FewShotK)
	if len(shots) == 0 {
		return b.String()
	}
	b.WriteString("\nHere are some examples of user inputs and their corresponding SQL queries. They are tested and work.\n")
	b.WriteString("Use them as a guide when creating your own queries:\n")
	for _, ex := range shots {
		fmt.Fprintf(&b, "\nUser input: %s\nSQL query: %s\n", ex.Input, ex.Query)
	}
	return b.String()
}

var _ Agent = (*SQLAgent)(nil)
