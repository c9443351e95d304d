// Package handlers implements the staged conversation flows. Each handler
// owns a set of stages; the router picks the handler from the session's
// stage and current tool.
package handlers

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	"github.com/tanpawarit/dataops-agent/agent/discovery"
	"github.com/tanpawarit/dataops-agent/agent/jobagent"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
	validatorx "github.com/tanpawarit/dataops-agent/agent/validator"
)

// Result is one turn's outcome. DelegateTo, when set, tells the router to
// hand the same turn to another flow after committing the stage change.
type Result struct {
	Response   contractx.Response
	DelegateTo contractx.ToolName
}

// Handler owns a set of conversation stages.
type Handler interface {
	Stages() []statex.Stage
	Handle(ctx context.Context, mem *statex.Memory, input string) (Result, error)
}

// Deps bundles the collaborators every flow needs.
type Deps struct {
	Pipeline *jobagent.Pipeline
	Fetcher  *discovery.Fetcher
	SQLGen   contractx.SQLGenerator
	Executor contractx.JobExecutor
}

/* --------------------------- shared flow helpers --------------------------- */

var connectionAskParams = map[string]bool{
	"connection":             true,
	"write_count_connection": true,
}

var schemaAskParams = map[string]bool{
	"result_schema": true,
	"schemas":       true,
}

// advance folds the user's message into the gathered parameters and walks the
// validator until it either has a question for the user or a complete
// parameter set. submit is true in the complete case.
func (d *Deps) advance(ctx context.Context, mem *statex.Memory, tool contractx.ToolName, input string) (resp contractx.Response, submit bool, err error) {
	// A bare confirmation right after SQL approval carries no parameters.
	if len(mem.GatheredParams) == 0 && isConfirmationNoise(input) {
		input = ""
	}

	notice, err := d.Pipeline.Gather(ctx, mem, tool, input)
	if err != nil {
		return contractx.Response{}, false, err
	}

	for range [8]int{} {
		act := validatorx.Next(tool, mem.GatheredParams, mem)
		switch act.Kind {
		case contractx.ActionAsk:
			return withNotice(notice, d.prompt(mem, act)), false, nil

		case contractx.ActionFetchConnections:
			if err := d.Fetcher.LoadConnections(ctx, mem); err != nil {
				return faultResponse(err), false, nil
			}

		case contractx.ActionFetchSchemas:
			if act.Param == "write_count_schema" {
				schemas, err := d.Fetcher.FetchSchemasFor(ctx, mem, act.Connection)
				if err != nil {
					return faultResponse(err), false, nil
				}
				question := "Which schema holds the row-count tracking table?"
				mem.LastQuestion = question
				return withNotice(notice, discovery.SchemaPrompt(schemas, act.Param, question)), false, nil
			}
			conn := act.Connection
			if conn == "" {
				conn = mem.Connection
			}
			if err := d.Fetcher.LoadSchemas(ctx, mem, conn); err != nil {
				return faultResponse(err), false, nil
			}

		case contractx.ActionTool:
			return contractx.Response{}, true, nil
		}
	}
	return contractx.Response{}, false, fmt.Errorf("%w: parameter flow for %s did not converge", contractx.ErrValidation, tool)
}

// prompt renders a validator question, attaching the matching widget for
// connection and schema parameters.
func (d *Deps) prompt(mem *statex.Memory, act contractx.Action) contractx.Response {
	mem.LastQuestion = act.Question
	switch {
	case connectionAskParams[act.Param]:
		return discovery.ConnectionPrompt(mem, act.Param, act.Question)
	case schemaAskParams[act.Param]:
		return discovery.SchemaPrompt(mem.AvailableSchemas, act.Param, act.Question)
	default:
		return contractx.Response{Text: act.Question}
	}
}

// submitJob sends the assembled request. On a duplicate name only the name is
// cleared, so the rest of the gathered parameters survive the re-ask.
func (d *Deps) submitJob(ctx context.Context, mem *statex.Memory, req contractx.JobRequest, nameParam string) (contractx.JobResult, contractx.Response, bool) {
	result, err := d.Executor.Submit(ctx, req)
	if err == nil {
		mem.LastJobID = result.JobID
		mem.LastJobName = req.Name
		mem.LastColumns = result.Columns
		return result, contractx.Response{}, true
	}

	if fault, ok := contractx.AsFault(err); ok && fault.Code == contractx.CodeDuplicateName {
		delete(mem.GatheredParams, nameParam)
		resp := faultResponse(err)
		resp.Text += "\nWhat should this job be called instead?"
		mem.LastQuestion = "What should this job be called instead?"
		return contractx.JobResult{}, resp, false
	}
	return contractx.JobResult{}, faultResponse(err), false
}

func faultResponse(err error) contractx.Response {
	if fault, ok := contractx.AsFault(err); ok {
		return contractx.Response{
			Text:      fault.UserMessage(),
			IsError:   true,
			ErrorCode: fault.Code,
			Retryable: fault.Retryable,
		}
	}
	return contractx.Response{Text: "Something went wrong: " + err.Error(), IsError: true}
}

func withNotice(notice string, resp contractx.Response) contractx.Response {
	if notice != "" {
		resp.Text = notice + "\n" + resp.Text
	}
	return resp
}

// ensureSessionContext resolves the session's connection and schema before a
// SQL flow starts. pending is true while another context turn is needed;
// remaining is whatever part of the input was not consumed by a selection.
func (d *Deps) ensureSessionContext(ctx context.Context, mem *statex.Memory, input string) (resp contractx.Response, pending bool, remaining string) {
	in := strings.TrimSpace(input)
	if v, ok := strings.CutPrefix(in, contractx.TokenConnectionSelected); ok {
		mem.SetConnection(strings.TrimSpace(v))
		in = ""
	} else if v, ok := strings.CutPrefix(in, contractx.TokenSchemaSelected); ok {
		mem.Schema = strings.TrimSpace(v)
		in = ""
	}

	if mem.Connection == "" {
		if err := d.Fetcher.LoadConnections(ctx, mem); err != nil {
			return faultResponse(err), true, ""
		}
		if in != "" {
			if display, ok := mem.CanonicalConnection(in); ok {
				mem.SetConnection(display)
				in = ""
			}
		}
		if mem.Connection == "" {
			question := "Which connection should this query run against?"
			mem.LastQuestion = question
			resp := discovery.ConnectionPrompt(mem, "connection", question)
			if in != "" {
				resp.Text = fmt.Sprintf("I don't know a connection called %q.\n%s", in, resp.Text)
			}
			return resp, true, ""
		}
	}

	if mem.Schema == "" {
		if len(mem.AvailableSchemas) == 0 {
			if err := d.Fetcher.LoadSchemas(ctx, mem, mem.Connection); err != nil {
				return faultResponse(err), true, ""
			}
		}
		if in != "" {
			for _, schema := range mem.AvailableSchemas {
				if strings.EqualFold(schema, in) {
					mem.Schema = schema
					in = ""
					break
				}
			}
		}
		if mem.Schema == "" {
			question := "Which schema are you working in?"
			mem.LastQuestion = question
			return discovery.SchemaPrompt(mem.AvailableSchemas, "schema", question), true, ""
		}
	}

	return contractx.Response{}, false, in
}

var noiseTokens = map[string]bool{
	"yes": true, "y": true, "ok": true, "okay": true, "sure": true, "confirm": true, "go ahead": true,
}

func isConfirmationNoise(input string) bool {
	token := strings.ToLower(strings.TrimSpace(input))
	token = strings.TrimRight(token, ".!")
	return noiseTokens[token]
}

// wantsOwnSQL and wantsGeneratedSQL classify the answer to "write it yourself
// or describe it?".
func wantsOwnSQL(input string) bool {
	s := strings.ToLower(input)
	return strings.Contains(s, "own") || strings.Contains(s, "myself") ||
		strings.Contains(s, "write") || strings.Contains(s, "paste") ||
		strings.TrimSpace(s) == "1"
}

func wantsGeneratedSQL(input string) bool {
	s := strings.ToLower(input)
	return strings.Contains(s, "describ") || strings.Contains(s, "natural") ||
		strings.Contains(s, "generate") || strings.Contains(s, "help") ||
		strings.TrimSpace(s) == "2"
}

func looksLikeStatement(input string) bool {
	s := strings.ToLower(strings.TrimSpace(input))
	for _, kw := range []string{"select", "with", "insert", "update", "delete", "create", "drop", "truncate", "alter"} {
		if strings.HasPrefix(s, kw+" ") || strings.HasPrefix(s, kw+"\n") || s == kw {
			return true
		}
	}
	return false
}
