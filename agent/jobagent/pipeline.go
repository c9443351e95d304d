// Package jobagent turns one user message into gathered job parameters. It
// tries the cheap paths first (widget bypass tokens, bare yes/no answers) and
// only then calls the extraction model; an extraction failure degrades to "no
// parameters found" so the validator can re-ask.
package jobagent

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
	validatorx "github.com/tanpawarit/dataops-agent/agent/validator"
)

type Pipeline struct {
	extractor contractx.Extractor
}

func NewPipeline(extractor contractx.Extractor) *Pipeline {
	return &Pipeline{extractor: extractor}
}

// connection/schema parameters per tool, in the order the validator asks for
// them. Bypass tokens bind to the first one still missing.
var connectionParams = map[contractx.ToolName][]string{
	contractx.ToolReadSQL:   {"write_count_connection"},
	contractx.ToolWriteData: {"connection", "write_count_connection"},
}

var schemaParams = map[contractx.ToolName][]string{
	contractx.ToolReadSQL:   {"result_schema", "write_count_schema"},
	contractx.ToolWriteData: {"schemas", "write_count_schema"},
}

// Gather folds the user's message into mem.GatheredParams. The returned
// notice, when non-empty, is user-visible text to show before the next
// question (e.g. a rejected email address).
func (p *Pipeline) Gather(ctx context.Context, mem *statex.Memory, tool contractx.ToolName, input string) (notice string, err error) {
	mem.EnsureParams()
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}

	if value, ok := strings.CutPrefix(input, contractx.TokenConnectionSelected); ok {
		p.bindSelection(mem, tool, connectionParams[tool], strings.TrimSpace(value))
		return "", nil
	}
	if value, ok := strings.CutPrefix(input, contractx.TokenSchemaSelected); ok {
		p.bindSelection(mem, tool, schemaParams[tool], strings.TrimSpace(value))
		return "", nil
	}

	if val, ok := validatorx.ParseBool(input); ok {
		if param, pending := validatorx.NextBoolParam(tool, mem.GatheredParams); pending {
			mem.SetParam(param, val)
			return "", nil
		}
		// "no" is the documented refusal answer to the drop/truncate
		// question; a bare "yes" there is ambiguous and gets re-asked.
		if !val && validatorx.Next(tool, mem.GatheredParams, mem).Param == "drop_or_truncate" {
			mem.SetParam("drop_or_truncate", "none")
			return "", nil
		}
		// A bare yes/no with no boolean pending carries no parameters.
		return "", nil
	}

	result, err := p.extractor.Extract(ctx, contractx.ExtractRequest{
		Tool:         tool,
		UserInput:    input,
		Gathered:     mem.GatheredParams,
		LastQuestion: mem.LastQuestion,
		LastSQL:      mem.LastSQL,
	})
	if err != nil {
		log.Warn().Err(err).Str("tool", string(tool)).Msg("extraction failed, re-asking")
		return "", nil
	}

	return p.merge(mem, tool, result.Params), nil
}

// bindSelection writes a widget selection into the first missing parameter of
// the ordered group.
func (p *Pipeline) bindSelection(mem *statex.Memory, tool contractx.ToolName, params []string, value string) {
	if value == "" {
		return
	}
	for _, param := range params {
		if mem.ParamString(param) != "" {
			continue
		}
		mem.SetParam(param, value)
		if param == "connection" {
			mem.SetConnection(value)
		}
		return
	}
	log.Debug().Str("tool", string(tool)).Str("value", value).Msg("selection token with no pending parameter")
}

// merge normalizes and stores extracted parameters. Invalid values are
// dropped so the validator re-asks, with the reason surfaced as a notice.
func (p *Pipeline) merge(mem *statex.Memory, tool contractx.ToolName, params map[string]any) string {
	var notices []string
	for key, val := range params {
		if val == nil {
			continue
		}
		switch key {
		case "drop_or_truncate":
			mem.SetParam(key, validatorx.NormalizeDropOrTruncate(val))
		case "cc":
			cc := validatorx.NormalizeCC(val)
			if cc != "" && !validEmailList(cc) {
				notices = append(notices, contractx.InvalidEmailFault(cc).UserMessage())
				continue
			}
			mem.GatheredParams["cc"] = cc
		case "to":
			to := strings.TrimSpace(asString(val))
			if !validEmailList(to) {
				notices = append(notices, contractx.InvalidEmailFault(to).UserMessage())
				continue
			}
			mem.SetParam(key, to)
		case "connection":
			name := strings.TrimSpace(asString(val))
			mem.SetParam(key, name)
			mem.SetConnection(name)
		default:
			mem.SetParam(key, val)
		}
	}
	return strings.Join(notices, "\n")
}

func validEmailList(list string) bool {
	for _, addr := range strings.Split(list, ",") {
		if !validatorx.ValidEmail(strings.TrimSpace(addr)) {
			return false
		}
	}
	return true
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
