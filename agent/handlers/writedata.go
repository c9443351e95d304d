package handlers

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
	validatorx "github.com/tanpawarit/dataops-agent/agent/validator"
)

// WriteDataHandler gathers the write-data job parameters and submits the job
// that copies the previous query's results into a target table. It is entered
// by delegation from the read-SQL flow.
type WriteDataHandler struct {
	*Deps
}

func NewWriteDataHandler(deps *Deps) *WriteDataHandler {
	return &WriteDataHandler{Deps: deps}
}

func (h *WriteDataHandler) Stages() []statex.Stage {
	return []statex.Stage{statex.StageExecuteSQL}
}

func (h *WriteDataHandler) Handle(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	if mem.Stage != statex.StageExecuteSQL {
		return Result{}, fmt.Errorf("%w: write_data flow got %s", contractx.ErrUnknownStage, mem.Stage)
	}

	// Writing copies the stored results of an earlier read job.
	if mem.LastJobID == "" {
		mem.Stage = statex.StageDone
		return Result{Response: contractx.Response{
			Text: "There is no stored query result to write. Run a read SQL job first, then ask to write its results.",
		}}, nil
	}

	resp, submit, err := h.advance(ctx, mem, contractx.ToolWriteData, input)
	if err != nil {
		return Result{}, err
	}
	if !submit {
		return Result{Response: resp}, nil
	}

	vars, fault := h.writeVariables(mem)
	if fault != nil {
		return Result{Response: faultResponse(fault)}, nil
	}

	result, errResp, ok := h.submitJob(ctx, mem, contractx.JobRequest{
		Tool:      contractx.ToolWriteData,
		Name:      mem.ParamString("name"),
		Variables: vars,
	}, "name")
	if !ok {
		return Result{Response: errResp}, nil
	}

	mem.Stage = statex.StageDone
	return Result{Response: contractx.Response{
		Text: fmt.Sprintf("Write job %q submitted (id %s). Say 'new' to start another job.", mem.LastJobName, result.JobID),
	}}, nil
}

func (h *WriteDataHandler) writeVariables(mem *statex.Memory) (map[string]any, error) {
	connName := mem.ParamString("connection")
	connID, ok := mem.ConnectionID(connName)
	if !ok {
		return nil, contractx.UnknownConnectionFault(connName)
	}

	vars := map[string]any{
		"sql":              mem.LastSQL,
		"source_job_id":    mem.LastJobID,
		"connection_id":    connID,
		"schemas":          mem.ParamString("schemas"),
		"table":            mem.ParamString("table"),
		"drop_or_truncate": validatorx.NormalizeDropOrTruncate(mem.GatheredParams["drop_or_truncate"]),
		"write_count":      validatorx.Truthy(mem.GatheredParams["write_count"]),
	}
	if validatorx.Truthy(mem.GatheredParams["write_count"]) {
		wcConn := mem.ParamString("write_count_connection")
		wcID, ok := mem.ConnectionID(wcConn)
		if !ok {
			return nil, contractx.UnknownConnectionFault(wcConn)
		}
		vars["write_count_connection_id"] = wcID
		vars["write_count_schema"] = mem.ParamString("write_count_schema")
		vars["write_count_table"] = mem.ParamString("write_count_table")
	}
	return vars, nil
}
