package handlers

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	"github.com/tanpawarit/dataops-agent/agent/llm"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
	validatorx "github.com/tanpawarit/dataops-agent/agent/validator"
)

// ReadSQLHandler drives the read-SQL flow: pick or generate a statement,
// confirm it, gather the job parameters, submit, then offer the write and
// email continuations.
type ReadSQLHandler struct {
	*Deps
}

func NewReadSQLHandler(deps *Deps) *ReadSQLHandler {
	return &ReadSQLHandler{Deps: deps}
}

func (h *ReadSQLHandler) Stages() []statex.Stage {
	return []statex.Stage{
		statex.StageAskSQLMethod,
		statex.StageNeedNaturalLanguage,
		statex.StageNeedUserSQL,
		statex.StageConfirmGeneratedSQL,
		statex.StageConfirmUserSQL,
		statex.StageExecuteSQL,
		statex.StageNeedWriteOrEmail,
	}
}

// Start enters the flow from the job-type choice.
func (h *ReadSQLHandler) Start(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	mem.JobType = "read_sql"
	mem.CurrentTool = contractx.ToolReadSQL
	mem.Stage = statex.StageAskSQLMethod
	mem.GatheredParams = make(map[string]any, 8)
	return h.handleAskSQLMethod(ctx, mem, input)
}

func (h *ReadSQLHandler) Handle(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	switch mem.Stage {
	case statex.StageAskSQLMethod:
		return h.handleAskSQLMethod(ctx, mem, input)
	case statex.StageNeedNaturalLanguage:
		return h.handleNeedNaturalLanguage(ctx, mem, input)
	case statex.StageNeedUserSQL:
		return h.handleNeedUserSQL(mem, input)
	case statex.StageConfirmGeneratedSQL:
		return h.handleConfirmGeneratedSQL(ctx, mem, input)
	case statex.StageConfirmUserSQL:
		return h.handleConfirmUserSQL(ctx, mem, input)
	case statex.StageExecuteSQL:
		return h.handleExecuteSQL(ctx, mem, input)
	case statex.StageNeedWriteOrEmail:
		return h.handleNeedWriteOrEmail(mem, input)
	default:
		return Result{}, fmt.Errorf("%w: read_sql flow got %s", contractx.ErrUnknownStage, mem.Stage)
	}
}

const askMethodQuestion = "Would you like to write the SQL yourself, or describe what you need and I'll draft it? (write/describe)"

func (h *ReadSQLHandler) handleAskSQLMethod(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	resp, pending, remaining := h.ensureSessionContext(ctx, mem, input)
	if pending {
		return Result{Response: resp}, nil
	}

	switch {
	case remaining == "":
		mem.LastQuestion = askMethodQuestion
		return Result{Response: contractx.Response{Text: askMethodQuestion}}, nil
	case looksLikeStatement(remaining):
		// They pasted the statement instead of answering.
		return h.acceptUserSQL(mem, remaining)
	case wantsOwnSQL(remaining):
		mem.Stage = statex.StageNeedUserSQL
		question := "Go ahead and paste the SQL statement."
		mem.LastQuestion = question
		return Result{Response: contractx.Response{Text: question}}, nil
	case wantsGeneratedSQL(remaining):
		mem.Stage = statex.StageNeedNaturalLanguage
		question := "Describe what the query should do."
		mem.LastQuestion = question
		return Result{Response: contractx.Response{Text: question}}, nil
	default:
		mem.LastQuestion = askMethodQuestion
		return Result{Response: contractx.Response{Text: "I didn't catch that. " + askMethodQuestion}}, nil
	}
}

func (h *ReadSQLHandler) handleNeedNaturalLanguage(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	if strings.TrimSpace(input) == "" {
		return Result{Response: contractx.Response{Text: "Describe what the query should do."}}, nil
	}

	spec, err := h.SQLGen.Generate(ctx, contractx.SQLRequest{
		UserInput:      input,
		Connection:     mem.Connection,
		Schema:         mem.Schema,
		SelectedTables: mem.SelectedTables,
	})
	if err != nil {
		return Result{Response: faultResponse(contractx.ModelFault(err))}, nil
	}

	mem.LastSQL = spec.SQL
	mem.Stage = statex.StageConfirmGeneratedSQL

	var b strings.Builder
	b.WriteString("Here's the SQL:\n")
	b.WriteString(spec.SQL)
	if spec.Reasoning != "" {
		b.WriteString("\n\n")
		b.WriteString(spec.Reasoning)
	}
	if spec.Warning != "" {
		b.WriteString("\nWarning: ")
		b.WriteString(spec.Warning)
	}
	b.WriteString("\n\nUse this statement? (yes / no / describe changes)")
	mem.LastQuestion = "Use this statement?"
	return Result{Response: contractx.Response{Text: b.String()}}, nil
}

func (h *ReadSQLHandler) handleNeedUserSQL(mem *statex.Memory, input string) (Result, error) {
	if !looksLikeStatement(input) {
		resp := faultResponse(contractx.InvalidSQLFault("it does not start with a SQL keyword"))
		resp.Text += "\nPaste the statement you want to run."
		return Result{Response: resp}, nil
	}
	return h.acceptUserSQL(mem, input)
}

func (h *ReadSQLHandler) acceptUserSQL(mem *statex.Memory, sql string) (Result, error) {
	mem.LastSQL = strings.TrimSpace(sql)
	mem.Stage = statex.StageConfirmUserSQL

	text := "Got it:\n" + mem.LastSQL
	if !llm.IsSelect(mem.LastSQL) {
		text += "\nWarning: this statement modifies data."
	}
	text += "\n\nUse this statement? (yes/no)"
	mem.LastQuestion = "Use this statement?"
	return Result{Response: contractx.Response{Text: text}}, nil
}

func (h *ReadSQLHandler) handleConfirmGeneratedSQL(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	if val, ok := validatorx.ParseBool(input); ok {
		if val {
			return h.enterParamLoop(ctx, mem)
		}
		mem.Stage = statex.StageNeedNaturalLanguage
		return Result{Response: contractx.Response{Text: "Okay. Describe what the query should do instead."}}, nil
	}
	// Anything else is a revision request.
	return h.handleNeedNaturalLanguage(ctx, mem, input)
}

func (h *ReadSQLHandler) handleConfirmUserSQL(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	if val, ok := validatorx.ParseBool(input); ok {
		if val {
			return h.enterParamLoop(ctx, mem)
		}
		mem.Stage = statex.StageNeedUserSQL
		return Result{Response: contractx.Response{Text: "Okay. Paste the SQL statement you want to run."}}, nil
	}
	if looksLikeStatement(input) {
		return h.acceptUserSQL(mem, input)
	}
	return Result{Response: contractx.Response{Text: "Use this statement? (yes/no)"}}, nil
}

func (h *ReadSQLHandler) enterParamLoop(ctx context.Context, mem *statex.Memory) (Result, error) {
	mem.Stage = statex.StageExecuteSQL
	return h.handleExecuteSQL(ctx, mem, "")
}

func (h *ReadSQLHandler) handleExecuteSQL(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	resp, submit, err := h.advance(ctx, mem, contractx.ToolReadSQL, input)
	if err != nil {
		return Result{}, err
	}
	if !submit {
		return Result{Response: resp}, nil
	}

	connID, ok := mem.ConnectionID(mem.Connection)
	if !ok {
		return Result{Response: faultResponse(contractx.UnknownConnectionFault(mem.Connection))}, nil
	}
	vars, fault := h.readVariables(mem, connID)
	if fault != nil {
		return Result{Response: faultResponse(fault)}, nil
	}

	result, errResp, ok := h.submitJob(ctx, mem, contractx.JobRequest{
		Tool:      contractx.ToolReadSQL,
		Name:      mem.ParamString("name"),
		Variables: vars,
	}, "name")
	if !ok {
		return Result{Response: errResp}, nil
	}

	execQ := validatorx.Truthy(mem.GatheredParams["execute_query"])
	mem.ExecuteQueryEnabled = execQ
	if execQ {
		mem.OutputTable = &statex.TableRef{
			Connection: mem.Connection,
			Schema:     mem.ParamString("result_schema"),
			Table:      mem.ParamString("table_name"),
		}
	}
	mem.Stage = statex.StageNeedWriteOrEmail

	text := fmt.Sprintf("Job %q submitted (id %s).", mem.LastJobName, result.JobID)
	if execQ {
		text += fmt.Sprintf("\nResults will be stored in %s.%s.", mem.OutputTable.Schema, mem.OutputTable.Table)
		text += "\nWould you like to email the results, or are we done? (email/no)"
	} else {
		text += "\nWould you like to write the results somewhere or email them? (write/email/no)"
	}
	mem.LastQuestion = text
	return Result{Response: contractx.Response{Text: text}}, nil
}

// readVariables assembles the read_sql job variables, resolving connection
// display names to ids.
func (h *ReadSQLHandler) readVariables(mem *statex.Memory, connID string) (map[string]any, error) {
	vars := map[string]any{
		"sql":           mem.LastSQL,
		"connection_id": connID,
		"execute_query": validatorx.Truthy(mem.GatheredParams["execute_query"]),
	}
	if validatorx.Truthy(mem.GatheredParams["execute_query"]) {
		vars["result_schema"] = mem.ParamString("result_schema")
		vars["table_name"] = mem.ParamString("table_name")
		vars["drop_before_create"] = validatorx.Truthy(mem.GatheredParams["drop_before_create"])
	}
	vars["write_count"] = validatorx.Truthy(mem.GatheredParams["write_count"])
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

func (h *ReadSQLHandler) handleNeedWriteOrEmail(mem *statex.Memory, input string) (Result, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	switch {
	case strings.Contains(s, "write"):
		if mem.ExecuteQueryEnabled {
			text := "The data was already written when the query ran."
			if mem.OutputTable != nil {
				text = fmt.Sprintf("The data was already written to %s.%s when the query ran.",
					mem.OutputTable.Schema, mem.OutputTable.Table)
			}
			text += "\nWould you like to email the results, or are we done? (email/no)"
			return Result{Response: contractx.Response{Text: text}}, nil
		}
		mem.CurrentTool = contractx.ToolWriteData
		mem.Stage = statex.StageExecuteSQL
		mem.GatheredParams = make(map[string]any, 8)
		return Result{DelegateTo: contractx.ToolWriteData}, nil

	case strings.Contains(s, "mail") || strings.Contains(s, "send"):
		if mem.OutputTable == nil {
			mem.Stage = statex.StageDone
			return Result{Response: contractx.Response{
				Text: "The query results were not stored in a table, so there is nothing to attach. Say 'new' to start another job.",
			}}, nil
		}
		mem.CurrentTool = contractx.ToolSendEmail
		query := fmt.Sprintf("SELECT * FROM %s.%s", mem.OutputTable.Schema, mem.OutputTable.Table)
		mem.PendingEmailParams = map[string]any{"query": query}
		mem.Stage = statex.StageConfirmEmailQuery
		question := fmt.Sprintf("I can attach the results of:\n%s\nUse this query? (yes/no)", query)
		mem.LastQuestion = question
		return Result{Response: contractx.Response{Text: question}}, nil

	default:
		if val, ok := validatorx.ParseBool(s); ok && !val || s == "done" || s == "nothing" {
			mem.Stage = statex.StageDone
			return Result{Response: contractx.Response{
				Text: "All done. Say 'new' to start another job.",
			}}, nil
		}
		return Result{Response: contractx.Response{
			Text: "Would you like to write the results somewhere, email them, or are we done? (write/email/no)",
		}}, nil
	}
}
