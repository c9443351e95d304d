package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/dataops-agent/agent/contract"
	"github.com/tanpawarit/dataops-agent/agent/llm"
	statex "github.com/tanpawarit/dataops-agent/agent/state"
	validatorx "github.com/tanpawarit/dataops-agent/agent/validator"
)

// CompareSQLHandler drives the compare flow: two statements, column mapping,
// report type, result target, then the compare job submission.
type CompareSQLHandler struct {
	*Deps
}

func NewCompareSQLHandler(deps *Deps) *CompareSQLHandler {
	return &CompareSQLHandler{Deps: deps}
}

func (h *CompareSQLHandler) Stages() []statex.Stage {
	return []statex.Stage{
		statex.StageAskFirstSQLMethod,
		statex.StageNeedFirstNaturalLanguage,
		statex.StageNeedFirstUserSQL,
		statex.StageConfirmFirstGeneratedSQL,
		statex.StageConfirmFirstUserSQL,
		statex.StageAskSecondSQLMethod,
		statex.StageNeedSecondNaturalLanguage,
		statex.StageNeedSecondUserSQL,
		statex.StageConfirmSecondGeneratedSQL,
		statex.StageConfirmSecondUserSQL,
		statex.StageAskAutoMatch,
		statex.StageWaitingMapTable,
		statex.StageAskReportingType,
		statex.StageAskCompareSchema,
		statex.StageAskCompareTableName,
		statex.StageAskCompareJobName,
		statex.StageExecuteCompareSQL,
		statex.StageShowResults,
	}
}

// Start enters the flow from the job-type choice.
func (h *CompareSQLHandler) Start(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	mem.JobType = "compare_sql"
	mem.CurrentTool = contractx.ToolCompareSQL
	mem.Stage = statex.StageAskFirstSQLMethod
	mem.GatheredParams = make(map[string]any, 8)
	return h.handleAskMethod(ctx, mem, input, true)
}

func (h *CompareSQLHandler) Handle(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	switch mem.Stage {
	case statex.StageAskFirstSQLMethod:
		return h.handleAskMethod(ctx, mem, input, true)
	case statex.StageAskSecondSQLMethod:
		return h.handleAskMethod(ctx, mem, input, false)
	case statex.StageNeedFirstNaturalLanguage:
		return h.handleNaturalLanguage(ctx, mem, input, true)
	case statex.StageNeedSecondNaturalLanguage:
		return h.handleNaturalLanguage(ctx, mem, input, false)
	case statex.StageNeedFirstUserSQL:
		return h.handleUserSQL(mem, input, true)
	case statex.StageNeedSecondUserSQL:
		return h.handleUserSQL(mem, input, false)
	case statex.StageConfirmFirstGeneratedSQL:
		return h.handleConfirm(ctx, mem, input, true, true)
	case statex.StageConfirmSecondGeneratedSQL:
		return h.handleConfirm(ctx, mem, input, false, true)
	case statex.StageConfirmFirstUserSQL:
		return h.handleConfirm(ctx, mem, input, true, false)
	case statex.StageConfirmSecondUserSQL:
		return h.handleConfirm(ctx, mem, input, false, false)
	case statex.StageAskAutoMatch:
		return h.handleAskAutoMatch(mem, input)
	case statex.StageWaitingMapTable:
		return h.handleMapTable(mem, input)
	case statex.StageAskReportingType:
		return h.handleReportingType(ctx, mem, input)
	case statex.StageAskCompareSchema:
		return h.handleCompareSchema(mem, input)
	case statex.StageAskCompareTableName:
		return h.handleCompareTableName(mem, input)
	case statex.StageAskCompareJobName:
		return h.handleCompareJobName(ctx, mem, input)
	case statex.StageExecuteCompareSQL:
		return h.submitCompare(ctx, mem)
	case statex.StageShowResults:
		return h.handleShowResults(mem)
	default:
		return Result{}, fmt.Errorf("%w: compare_sql flow got %s", contractx.ErrUnknownStage, mem.Stage)
	}
}

/* ------------------------------ statement steps ----------------------------- */

func datasetLabel(first bool) string {
	if first {
		return "first"
	}
	return "second"
}

func (h *CompareSQLHandler) handleAskMethod(ctx context.Context, mem *statex.Memory, input string, first bool) (Result, error) {
	resp, pending, remaining := h.ensureSessionContext(ctx, mem, input)
	if pending {
		return Result{Response: resp}, nil
	}

	question := fmt.Sprintf("For the %s dataset: write the SQL yourself, or describe what you need? (write/describe)", datasetLabel(first))
	switch {
	case remaining == "":
		mem.LastQuestion = question
		return Result{Response: contractx.Response{Text: question}}, nil
	case looksLikeStatement(remaining):
		return h.acceptStatement(mem, remaining, first)
	case wantsOwnSQL(remaining):
		mem.Stage = pick(first, statex.StageNeedFirstUserSQL, statex.StageNeedSecondUserSQL)
		q := fmt.Sprintf("Paste the SQL for the %s dataset.", datasetLabel(first))
		mem.LastQuestion = q
		return Result{Response: contractx.Response{Text: q}}, nil
	case wantsGeneratedSQL(remaining):
		mem.Stage = pick(first, statex.StageNeedFirstNaturalLanguage, statex.StageNeedSecondNaturalLanguage)
		q := fmt.Sprintf("Describe what the %s dataset should contain.", datasetLabel(first))
		mem.LastQuestion = q
		return Result{Response: contractx.Response{Text: q}}, nil
	default:
		mem.LastQuestion = question
		return Result{Response: contractx.Response{Text: "I didn't catch that. " + question}}, nil
	}
}

func (h *CompareSQLHandler) handleNaturalLanguage(ctx context.Context, mem *statex.Memory, input string, first bool) (Result, error) {
	if strings.TrimSpace(input) == "" {
		return Result{Response: contractx.Response{
			Text: fmt.Sprintf("Describe what the %s dataset should contain.", datasetLabel(first)),
		}}, nil
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
	mem.Stage = pick(first, statex.StageConfirmFirstGeneratedSQL, statex.StageConfirmSecondGeneratedSQL)

	text := fmt.Sprintf("Here's the SQL for the %s dataset:\n%s", datasetLabel(first), spec.SQL)
	if spec.Reasoning != "" {
		text += "\n\n" + spec.Reasoning
	}
	if spec.Warning != "" {
		text += "\nWarning: " + spec.Warning
	}
	text += "\n\nUse this statement? (yes / no / describe changes)"
	mem.LastQuestion = "Use this statement?"
	return Result{Response: contractx.Response{Text: text}}, nil
}

func (h *CompareSQLHandler) handleUserSQL(mem *statex.Memory, input string, first bool) (Result, error) {
	if !looksLikeStatement(input) {
		resp := faultResponse(contractx.InvalidSQLFault("it does not start with a SQL keyword"))
		resp.Text += fmt.Sprintf("\nPaste the SQL for the %s dataset.", datasetLabel(first))
		return Result{Response: resp}, nil
	}
	return h.acceptStatement(mem, input, first)
}

func (h *CompareSQLHandler) acceptStatement(mem *statex.Memory, sql string, first bool) (Result, error) {
	mem.LastSQL = strings.TrimSpace(sql)
	mem.Stage = pick(first, statex.StageConfirmFirstUserSQL, statex.StageConfirmSecondUserSQL)

	text := fmt.Sprintf("Got it for the %s dataset:\n%s", datasetLabel(first), mem.LastSQL)
	if !llm.IsSelect(mem.LastSQL) {
		text += "\nWarning: this statement modifies data."
	}
	text += "\n\nUse this statement? (yes/no)"
	mem.LastQuestion = "Use this statement?"
	return Result{Response: contractx.Response{Text: text}}, nil
}

func (h *CompareSQLHandler) handleConfirm(ctx context.Context, mem *statex.Memory, input string, first, generated bool) (Result, error) {
	if val, ok := validatorx.ParseBool(input); ok {
		if !val {
			if generated {
				mem.Stage = pick(first, statex.StageNeedFirstNaturalLanguage, statex.StageNeedSecondNaturalLanguage)
				return Result{Response: contractx.Response{
					Text: fmt.Sprintf("Okay. Describe what the %s dataset should contain instead.", datasetLabel(first)),
				}}, nil
			}
			mem.Stage = pick(first, statex.StageNeedFirstUserSQL, statex.StageNeedSecondUserSQL)
			return Result{Response: contractx.Response{
				Text: fmt.Sprintf("Okay. Paste the SQL for the %s dataset.", datasetLabel(first)),
			}}, nil
		}

		if first {
			mem.FirstSQL = mem.LastSQL
			mem.Stage = statex.StageAskSecondSQLMethod
			return h.handleAskMethod(ctx, mem, "", false)
		}
		mem.SecondSQL = mem.LastSQL
		return h.fetchColumns(ctx, mem)
	}

	if generated {
		return h.handleNaturalLanguage(ctx, mem, input, first)
	}
	if looksLikeStatement(input) {
		return h.acceptStatement(mem, input, first)
	}
	return Result{Response: contractx.Response{Text: "Use this statement? (yes/no)"}}, nil
}

/* ------------------------------ column mapping ------------------------------ */

func (h *CompareSQLHandler) fetchColumns(ctx context.Context, mem *statex.Memory) (Result, error) {
	connID, ok := mem.ConnectionID(mem.Connection)
	if !ok {
		return Result{Response: faultResponse(contractx.UnknownConnectionFault(mem.Connection))}, nil
	}

	first, err := h.Executor.QueryColumns(ctx, connID, mem.FirstSQL)
	if err != nil {
		return Result{Response: faultResponse(err)}, nil
	}
	if len(first) == 0 {
		return Result{Response: faultResponse(contractx.MissingDatasetFault("first"))}, nil
	}
	second, err := h.Executor.QueryColumns(ctx, connID, mem.SecondSQL)
	if err != nil {
		return Result{Response: faultResponse(err)}, nil
	}
	if len(second) == 0 {
		return Result{Response: faultResponse(contractx.MissingDatasetFault("second"))}, nil
	}

	mem.FirstColumns = first
	mem.SecondColumns = second
	mem.Stage = statex.StageAskAutoMatch
	question := "Should I auto-match columns that share a name between the two datasets? (yes/no)"
	mem.LastQuestion = question
	return Result{Response: contractx.Response{Text: question}}, nil
}

// AutoMatchColumns pairs columns present in both datasets, preserving the
// first dataset's order.
func AutoMatchColumns(first, second []string) []contractx.ColumnMapping {
	inSecond := make(map[string]bool, len(second))
	for _, c := range second {
		inSecond[c] = true
	}
	var mappings []contractx.ColumnMapping
	for _, c := range first {
		if inSecond[c] {
			mappings = append(mappings, contractx.ColumnMapping{
				FirstMappedColumn:  c,
				SecondMappedColumn: c,
			})
		}
	}
	return mappings
}

func (h *CompareSQLHandler) handleAskAutoMatch(mem *statex.Memory, input string) (Result, error) {
	val, ok := validatorx.ParseBool(input)
	if !ok {
		return Result{Response: contractx.Response{
			Text: "Should I auto-match columns that share a name between the two datasets? (yes/no)",
		}}, nil
	}

	payload := &contractx.UIPayload{
		Kind:          contractx.PayloadMapTablePopup,
		FirstColumns:  mem.FirstColumns,
		SecondColumns: mem.SecondColumns,
	}
	text := "Map the key and value columns between the two datasets."
	if val {
		payload.AutoMatched = true
		payload.PreMappings = AutoMatchColumns(mem.FirstColumns, mem.SecondColumns)
		text = fmt.Sprintf("Pre-matched %d columns by name. Adjust the mapping and pick the key columns.", len(payload.PreMappings))
	}

	mem.Stage = statex.StageWaitingMapTable
	mem.LastQuestion = text
	return Result{Response: contractx.Response{Text: text, Payload: payload}}, nil
}

// mapTablePayload is the JSON the mapping popup posts back.
type mapTablePayload struct {
	KeyMappings    []contractx.KeyMapping    `json:"key_mappings"`
	ColumnMappings []contractx.ColumnMapping `json:"column_mappings"`
}

func (h *CompareSQLHandler) handleMapTable(mem *statex.Memory, input string) (Result, error) {
	var payload mapTablePayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(input)), &payload); err != nil {
		resp := faultResponse(contractx.InvalidJSONFault(err))
		resp.Text += "\nSubmit the mapping from the popup again."
		return Result{Response: resp}, nil
	}
	if len(payload.KeyMappings) == 0 {
		return Result{Response: contractx.Response{
			Text: "At least one key column pair is required to match rows. Pick the key columns in the popup.",
		}}, nil
	}

	mem.KeyMappings = payload.KeyMappings
	mem.ColumnMappings = payload.ColumnMappings

	firstKeys := make([]string, 0, len(payload.KeyMappings))
	secondKeys := make([]string, 0, len(payload.KeyMappings))
	for _, k := range payload.KeyMappings {
		firstKeys = append(firstKeys, k.FirstKey)
		secondKeys = append(secondKeys, k.SecondKey)
	}
	firstCols := make([]string, 0, len(payload.ColumnMappings))
	secondCols := make([]string, 0, len(payload.ColumnMappings))
	for _, c := range payload.ColumnMappings {
		firstCols = append(firstCols, c.FirstMappedColumn)
		secondCols = append(secondCols, c.SecondMappedColumn)
	}

	mem.SetParam("first_table_keys", strings.Join(firstKeys, ","))
	mem.SetParam("second_table_keys", strings.Join(secondKeys, ","))
	mem.SetParam("first_table_columns", strings.Join(firstCols, ","))
	mem.SetParam("second_table_columns", strings.Join(secondCols, ","))

	mem.Stage = statex.StageAskReportingType
	question := "What should the report include? (identical / only difference / only in first dataset / only in second dataset / all difference)"
	mem.LastQuestion = question
	return Result{Response: contractx.Response{Text: question}}, nil
}

/* ------------------------------- report target ------------------------------ */

// reportingTypes maps loose user phrasing to the job API's report modes.
var reportingTypes = map[string]string{
	"identical":              "identical",
	"onlydifference":         "only_difference",
	"difference":             "only_difference",
	"onlyinthefirstdataset":  "only_in_first_dataset",
	"firstdataset":           "only_in_first_dataset",
	"onlyfirst":              "only_in_first_dataset",
	"onlyintheseconddataset": "only_in_second_dataset",
	"seconddataset":          "only_in_second_dataset",
	"onlysecond":             "only_in_second_dataset",
	"alldifference":          "all_difference",
	"all":                    "all_difference",
}

// NormalizeReportingType folds loose phrasing into a report mode.
func NormalizeReportingType(input string) (string, bool) {
	key := strings.ToLower(input)
	for _, r := range []string{" ", "_", "-"} {
		key = strings.ReplaceAll(key, r, "")
	}
	mode, ok := reportingTypes[key]
	return mode, ok
}

func (h *CompareSQLHandler) handleReportingType(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	mode, ok := NormalizeReportingType(input)
	if !ok {
		return Result{Response: contractx.Response{
			Text: "Pick one report mode: identical, only difference, only in first dataset, only in second dataset, or all difference.",
		}}, nil
	}
	mem.SetParam("reporting_type", mode)

	if len(mem.AvailableSchemas) == 0 {
		if err := h.Fetcher.LoadSchemas(ctx, mem, mem.Connection); err != nil {
			return Result{Response: faultResponse(err)}, nil
		}
	}
	mem.Stage = statex.StageAskCompareSchema
	question := "Which schema should the comparison results go to?"
	mem.LastQuestion = question
	return Result{Response: discoverySchemaPrompt(mem, question)}, nil
}

func (h *CompareSQLHandler) handleCompareSchema(mem *statex.Memory, input string) (Result, error) {
	schema := strings.TrimSpace(input)
	if v, ok := strings.CutPrefix(schema, contractx.TokenSchemaSelected); ok {
		schema = strings.TrimSpace(v)
	}
	matched := ""
	for _, s := range mem.AvailableSchemas {
		if strings.EqualFold(s, schema) {
			matched = s
			break
		}
	}
	if matched == "" {
		question := "Which schema should the comparison results go to?"
		return Result{Response: discoverySchemaPrompt(mem, "That schema isn't in the list. "+question)}, nil
	}

	mem.SetParam("result_schema", matched)
	mem.Stage = statex.StageAskCompareTableName
	question := "What table name should the comparison results be written to?"
	mem.LastQuestion = question
	return Result{Response: contractx.Response{Text: question}}, nil
}

func (h *CompareSQLHandler) handleCompareTableName(mem *statex.Memory, input string) (Result, error) {
	table := strings.TrimSpace(input)
	if table == "" {
		return Result{Response: contractx.Response{Text: "What table name should the comparison results be written to?"}}, nil
	}
	mem.SetParam("result_table", table)
	mem.Stage = statex.StageAskCompareJobName
	question := "What should this compare job be called?"
	mem.LastQuestion = question
	return Result{Response: contractx.Response{Text: question}}, nil
}

func (h *CompareSQLHandler) handleCompareJobName(ctx context.Context, mem *statex.Memory, input string) (Result, error) {
	name := strings.TrimSpace(input)
	if name == "" {
		return Result{Response: contractx.Response{Text: "What should this compare job be called?"}}, nil
	}
	mem.SetParam("job_name", name)
	mem.Stage = statex.StageExecuteCompareSQL
	return h.submitCompare(ctx, mem)
}

func (h *CompareSQLHandler) submitCompare(ctx context.Context, mem *statex.Memory) (Result, error) {
	// Guard: the mapping stage must have produced the key lists.
	if act := validatorx.Next(contractx.ToolCompareSQL, mem.GatheredParams, mem); act.Kind != contractx.ActionTool {
		mem.Stage = statex.StageAskAutoMatch
		return Result{Response: contractx.Response{
			Text: "The column mapping is incomplete. Should I auto-match columns that share a name? (yes/no)",
		}}, nil
	}

	connID, ok := mem.ConnectionID(mem.Connection)
	if !ok {
		return Result{Response: faultResponse(contractx.UnknownConnectionFault(mem.Connection))}, nil
	}

	vars := map[string]any{
		"connection_id":        connID,
		"first_sql":            mem.FirstSQL,
		"second_sql":           mem.SecondSQL,
		"first_table_keys":     mem.ParamString("first_table_keys"),
		"second_table_keys":    mem.ParamString("second_table_keys"),
		"first_table_columns":  mem.ParamString("first_table_columns"),
		"second_table_columns": mem.ParamString("second_table_columns"),
		"key_mappings":         mem.KeyMappings,
		"column_mappings":      mem.ColumnMappings,
		"reporting_type":       mem.ParamString("reporting_type"),
		"result_schema":        mem.ParamString("result_schema"),
		"result_table":         mem.ParamString("result_table"),
	}

	result, errResp, ok := h.submitJob(ctx, mem, contractx.JobRequest{
		Tool:      contractx.ToolCompareSQL,
		Name:      mem.ParamString("job_name"),
		Variables: vars,
	}, "job_name")
	if !ok {
		// A duplicate name re-asks only the name. Any other failure keeps
		// the stage so the next turn resubmits with everything intact,
		// instead of swallowing the user's reply as a new job name.
		if errResp.ErrorCode == contractx.CodeDuplicateName {
			mem.Stage = statex.StageAskCompareJobName
		} else {
			mem.Stage = statex.StageExecuteCompareSQL
		}
		return Result{Response: errResp}, nil
	}

	mem.Stage = statex.StageShowResults
	return Result{Response: contractx.Response{
		Text: fmt.Sprintf("Compare job %q submitted (id %s). The report lands in %s.%s. Say 'done' when finished.",
			mem.LastJobName, result.JobID, mem.ParamString("result_schema"), mem.ParamString("result_table")),
	}}, nil
}

func (h *CompareSQLHandler) handleShowResults(mem *statex.Memory) (Result, error) {
	mem.Stage = statex.StageDone
	return Result{Response: contractx.Response{Text: "All done. Say 'new' to start another job."}}, nil
}

func discoverySchemaPrompt(mem *statex.Memory, question string) contractx.Response {
	mem.LastQuestion = question
	return contractx.Response{
		Text: question + "\n" + mem.SchemaList(),
		Payload: &contractx.UIPayload{
			Kind:      contractx.PayloadSchemaDropdown,
			Schemas:   mem.AvailableSchemas,
			ParamName: "result_schema",
			Question:  question,
		},
	}
}

func pick(first bool, a, b statex.Stage) statex.Stage {
	if first {
		return a
	}
	return b
}
