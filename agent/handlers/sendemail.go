package handlers

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
	validatorx "github.com/tanpawarit/dataops-agent/agent/validator"
)

// SendEmailHandler gathers the send-email job parameters and submits the job
// that mails the stored query results. It is entered from the read-SQL flow,
// which proposes the attachment query first.
type SendEmailHandler struct {
	*Deps
}

func NewSendEmailHandler(deps *Deps) *SendEmailHandler {
	return &SendEmailHandler{Deps: deps}
}

func (h *SendEmailHandler) Stages() []statex.Stage {
	return []statex.Stage{
		statex.StageConfirmEmailQuery,
		statex.StageNeedEmailQuery,
		statex.StageExecuteSQL,
	}
}

func (h *SendEmailHandler) Handle(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	switch mem.Stage {
	case statex.StageConfirmEmailQuery:
		return h.handleConfirmQuery(ctx, mem, input)
	case statex.StageNeedEmailQuery:
		return h.handleNeedQuery(ctx, mem, input)
	case statex.StageExecuteSQL:
		return h.handleParams(ctx, mem, input)
	default:
		return Result{}, fmt.Errorf("%w: send_email flow got %s", contractx.ErrUnknownStage, mem.Stage)
	}
}

func (h *SendEmailHandler) handleConfirmQuery(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	if val, ok := validatorx.ParseBool(input); ok {
		if val {
			return h.enterParamLoop(ctx, mem)
		}
		mem.Stage = statex.StageNeedEmailQuery
		question := "Provide the SQL whose results should be attached."
		mem.LastQuestion = question
		return Result{Response: contractx.Response{Text: question}}, nil
	}
	if looksLikeStatement(input) {
		// They answered with a replacement query directly.
		return h.acceptQuery(ctx, mem, input)
	}
	return Result{Response: contractx.Response{Text: "Use this query for the attachment? (yes/no)"}}, nil
}

func (h *SendEmailHandler) handleNeedQuery(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	if !looksLikeStatement(input) {
		resp := faultResponse(contractx.InvalidSQLFault("it does not start with a SQL keyword"))
		resp.Text += "\nPaste the query whose results should be attached."
		return Result{Response: resp}, nil
	}
	return h.acceptQuery(ctx, mem, input)
}

func (h *SendEmailHandler) acceptQuery(ctx context.Context, mem *statex.Memory, query string) (Result, error) {
	if mem.PendingEmailParams == nil {
		mem.PendingEmailParams = make(map[string]any, 1)
	}
	mem.PendingEmailParams["query"] = strings.TrimSpace(query)
	return h.enterParamLoop(ctx, mem)
}

// enterParamLoop seeds the gathered parameters with the approved attachment
// query and starts the send-email question sequence.
func (h *SendEmailHandler) enterParamLoop(ctx context.Context, mem *statex.Memory) (Result, error) {
	mem.GatheredParams = make(map[string]any, 8)
	for k, v := range mem.PendingEmailParams {
		mem.GatheredParams[k] = v
	}
	mem.PendingEmailParams = nil
	mem.Stage = statex.StageExecuteSQL
	return h.handleParams(ctx, mem, "")
}

func (h *SendEmailHandler) handleParams(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	resp, submit, err := h.advance(ctx, mem, contractx.ToolSendEmail, input)
	if err != nil {
		return Result{}, err
	}
	if !submit {
		return Result{Response: resp}, nil
	}

	vars := map[string]any{
		"to":      mem.ParamString("to"),
		"subject": mem.ParamString("subject"),
		"text":    mem.ParamString("text"),
		"cc":      validatorx.NormalizeCC(mem.GatheredParams["cc"]),
		"query":   mem.ParamString("query"),
	}
	if mem.OutputTable != nil {
		connID, ok := mem.ConnectionID(mem.OutputTable.Connection)
		if ok {
			vars["connection_id"] = connID
		}
	}

	result, errResp, ok := h.submitJob(ctx, mem, contractx.JobRequest{
		Tool:      contractx.ToolSendEmail,
		Name:      mem.ParamString("name"),
		Variables: vars,
	}, "name")
	if !ok {
		return Result{Response: errResp}, nil
	}

	mem.Stage = statex.StageDone
	return Result{Response: contractx.Response{
		Text: fmt.Sprintf("Email job %q submitted (id %s). Say 'new' to start another job.", mem.LastJobName, result.JobID),
	}}, nil
}
