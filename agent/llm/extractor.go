package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	openrouterx "github.com/tanpawarit/dataops-agent/pkg/openrouter"
)

// Extractor pulls tool parameters out of a free-form user turn. Its suggested
// question is parsed for the log but never shown: questions come from the
// parameter validator.
type Extractor struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.Extractor = (*Extractor)(nil)

func NewExtractor(ctx context.Context, builder openrouterx.LLMBuilder, systemPrompt string) (*Extractor, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: extractor prompt", contractx.ErrPromptMissing)
	}
	chatModel, err := builder.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	runner, err := compileMessageGraph(ctx, chatModel, systemPrompt, "extractor.graph")
	if err != nil {
		return nil, err
	}
	return &Extractor{runner: runner}, nil
}

func (e *Extractor) Extract(ctx context.Context, req contractx.ExtractRequest) (contractx.ExtractResult, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return contractx.ExtractResult{}, fmt.Errorf("marshal extract request: %w", err)
	}

	msg, err := e.runner.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil {
		return contractx.ExtractResult{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	var result contractx.ExtractResult
	if err := DecodeLoose(msg.Content, &result); err != nil {
		log.Debug().Str("tool", string(req.Tool)).Str("content", msg.Content).Msg("extractor output rejected")
		return contractx.ExtractResult{}, err
	}

	// nil values mean "not mentioned"; they must not overwrite gathered params.
	for k, v := range result.Params {
		if v == nil {
			delete(result.Params, k)
		}
	}
	return result, nil
}
