package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	openrouterx "github.com/tanpawarit/dataops-agent/pkg/openrouter"
)

// Generator turns a natural-language request plus schema context into SQL.
type Generator struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.SQLGenerator = (*Generator)(nil)

func NewGenerator(ctx context.Context, builder openrouterx.LLMBuilder, systemPrompt string) (*Generator, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: sql generator prompt", contractx.ErrPromptMissing)
	}
	chatModel, err := builder.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	runner, err := compileMessageGraph(ctx, chatModel, systemPrompt, "sqlgen.graph")
	if err != nil {
		return nil, err
	}
	return &Generator{runner: runner}, nil
}

func (g *Generator) Generate(ctx context.Context, req contractx.SQLRequest) (contractx.SQLSpec, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return contractx.SQLSpec{}, fmt.Errorf("marshal sql request: %w", err)
	}

	msg, err := g.runner.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil {
		return contractx.SQLSpec{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	var spec contractx.SQLSpec
	if err := DecodeLoose(msg.Content, &spec); err != nil {
		// Some models answer with the bare statement instead of the envelope.
		if sql := stripFences(msg.Content); looksLikeSQL(sql) {
			return contractx.SQLSpec{SQL: sql}, nil
		}
		return contractx.SQLSpec{}, err
	}

	spec.SQL = stripFences(spec.SQL)
	if strings.TrimSpace(spec.SQL) == "" {
		return contractx.SQLSpec{}, fmt.Errorf("%w: generator returned empty sql", contractx.ErrSchemaViolation)
	}
	return spec, nil
}

var sqlKeywords = []string{"select", "insert", "update", "delete", "with", "create", "drop", "truncate", "alter"}

func looksLikeSQL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, kw := range sqlKeywords {
		if strings.HasPrefix(s, kw+" ") || strings.HasPrefix(s, kw+"\n") {
			return true
		}
	}
	return false
}

// IsSelect reports whether the statement only reads data. Non-SELECT input
// still runs, but the user gets a warning first.
func IsSelect(sql string) bool {
	s := strings.ToLower(strings.TrimSpace(stripFences(sql)))
	return strings.HasPrefix(s, "select") || strings.HasPrefix(s, "with")
}
